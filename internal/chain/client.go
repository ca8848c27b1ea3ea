package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnitRejected is returned when the ledger rejects a unit of work. The
// unit had no effect; it is never resubmitted automatically, since a blind
// retry of a financial operation risks double execution.
var ErrUnitRejected = errors.New("unit of work rejected")

// Client submits signed units of work to the ledger's RPC endpoint. One
// Submit is one unit: the ledger commits it whole or not at all.
type Client struct {
	baseURL       string
	http          *http.Client
	signer        *Signer
	log           *zap.Logger
	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	nonceStore    NonceStore
	nonceKey      string
	persistMu     sync.Mutex
	persistWarned atomic.Bool
}

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

func NewClient(baseURL string, timeout time.Duration, signer *Signer, log *zap.Logger) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("base url is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		signer: signer,
		log:    log,
	}, nil
}

// Submit signs and posts one instruction as a unit of work. It returns the
// transaction id and any result data the program emitted.
func (c *Client) Submit(ctx context.Context, inst Instruction) (string, map[string]any, error) {
	payload, err := EncodeInstruction(inst)
	if err != nil {
		return "", nil, err
	}
	nonce := c.nextNonce()
	sig, err := c.signer.Sign(payload, nonce)
	if err != nil {
		return "", nil, err
	}
	unit := SignedUnit{
		ID:        uuid.NewString(),
		Program:   inst.Program.String(),
		Method:    inst.Method,
		Payload:   base64.StdEncoding.EncodeToString(payload),
		Nonce:     nonce,
		Signature: sig,
	}
	result, err := c.post(ctx, "/v1/submit", unit)
	if err != nil {
		return "", nil, err
	}
	if result.Status != statusOK {
		msg := result.Error
		if msg == "" {
			msg = "unknown"
		}
		return "", nil, fmt.Errorf("%w: %s: %s", ErrUnitRejected, inst.Method, msg)
	}
	return result.TxID, result.Data, nil
}

// Query posts a read-only request. Queries are unsigned and carry no nonce.
func (c *Client) Query(ctx context.Context, req any) (map[string]any, error) {
	result, err := c.post(ctx, "/v1/query", req)
	if err != nil {
		return nil, err
	}
	if result.Status != statusOK {
		msg := result.Error
		if msg == "" {
			msg = "unknown"
		}
		return nil, fmt.Errorf("%w: query: %s", ErrUnitRejected, msg)
	}
	return result.Data, nil
}

// InitNonceStore seeds the nonce counter from persisted state so a restarted
// service never reuses a nonce the ledger has already seen.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := fmt.Sprintf("chain:nonce:%s:%s", strings.ToLower(c.baseURL), strings.ToLower(c.signer.PublicKey().String()))
	seed := uint64(time.Now().UnixMilli())
	if raw, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		if parsed > seed {
			seed = parsed
		}
	}
	if current := c.lastNonce.Load(); current > seed {
		seed = current
	}
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed)
	c.lastPersisted.Store(seed)
	return nil
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			c.persistNonce(next)
			return next
		}
	}
}

func (c *Client) persistNonce(nonce uint64) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if nonce <= c.lastPersisted.Load() {
		return
	}
	if err := c.nonceStore.Set(context.Background(), c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		if c.log != nil && c.persistWarned.CompareAndSwap(false, true) {
			c.log.Warn("nonce persistence failed", zap.String("nonce_key", c.nonceKey), zap.Error(err))
		}
		return
	}
	c.lastPersisted.Store(nonce)
	c.persistWarned.Store(false)
}

func (c *Client) post(ctx context.Context, path string, req any) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Result{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(payload))
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, err
	}
	return result, nil
}
