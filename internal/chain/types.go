package chain

import "github.com/gagliardetto/solana-go"

// Instruction is one operation against an on-ledger program: a method name,
// integer arguments, and the ordered account set the program will touch.
type Instruction struct {
	Program  solana.PublicKey
	Method   string
	Args     []uint64
	Accounts []solana.PublicKey
	Bumps    []uint8
}

// Signature is an ed25519 signature over the canonical instruction encoding,
// rendered base58 for the wire.
type Signature struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// SignedUnit is the unit of work submitted to the ledger. The ledger applies
// it atomically: either the whole unit commits or nothing does.
type SignedUnit struct {
	ID        string    `json:"id"`
	Program   string    `json:"program"`
	Method    string    `json:"method"`
	Payload   string    `json:"payload"`
	Nonce     uint64    `json:"nonce"`
	Signature Signature `json:"signature"`
}

// Result is the ledger's verdict on a submitted unit.
type Result struct {
	Status string         `json:"status"`
	TxID   string         `json:"txid"`
	Error  string         `json:"error,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

const statusOK = "ok"
