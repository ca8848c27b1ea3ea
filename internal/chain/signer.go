package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Signer holds the vault authority's ed25519 keypair and signs canonical
// instruction encodings. The digest binds the nonce so a captured unit cannot
// be replayed.
type Signer struct {
	key solana.PrivateKey
}

func NewSigner(base58Key string) (*Signer, error) {
	clean := strings.TrimSpace(base58Key)
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	key, err := solana.PrivateKeyFromBase58(clean)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

func (s *Signer) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// Sign signs the unit digest for one instruction payload and nonce.
func (s *Signer) Sign(payload []byte, nonce uint64) (Signature, error) {
	digest := unitDigest(payload, nonce)
	sig, err := s.key.Sign(digest[:])
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		Signer:    s.key.PublicKey().String(),
		Signature: base58.Encode(sig[:]),
	}, nil
}

func unitDigest(payload []byte, nonce uint64) [32]byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	h := sha256.New()
	h.Write(payload)
	h.Write(nonceBytes[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
