package stream

import "encoding/json"

// Envelope is the outer shape of every message the ledger gateway pushes.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// AccountUpdate reports a new balance for a subscribed account.
type AccountUpdate struct {
	Account string `json:"account"`
	Mint    string `json:"mint"`
	Balance uint64 `json:"balance"`
	Slot    uint64 `json:"slot"`
}

// ParseEnvelope splits a raw push message into its channel and payload.
func ParseEnvelope(raw json.RawMessage) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

// ParseAccountUpdate decodes the payload of an "account" channel message.
func ParseAccountUpdate(data json.RawMessage) (AccountUpdate, error) {
	var upd AccountUpdate
	err := json.Unmarshal(data, &upd)
	return upd, err
}
