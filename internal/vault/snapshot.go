package vault

import (
	"context"
	"encoding/json"
	"strings"

	"epoch-vault/internal/state"
)

const snapshotPrefix = "vault:"

func snapshotKey(name string) string {
	return snapshotPrefix + name
}

// LoadSnapshot reads one vault record from the store. The second return is
// false when no record exists for that name.
func LoadSnapshot(ctx context.Context, store state.Store, name string) (Vault, bool, error) {
	if store == nil {
		return Vault{}, false, nil
	}
	raw, ok, err := store.Get(ctx, snapshotKey(name))
	if err != nil {
		return Vault{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return Vault{}, false, nil
	}
	var rec Vault
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Vault{}, false, err
	}
	return rec, true, nil
}

// SaveSnapshot writes one vault record. It is called after every committed
// state-changing operation so a restart resumes from the last good state.
func SaveSnapshot(ctx context.Context, store state.Store, rec Vault) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return store.Set(ctx, snapshotKey(rec.Name), string(payload))
}

// ListSnapshots returns the names of every persisted vault.
func ListSnapshots(ctx context.Context, store state.Store) ([]string, error) {
	if store == nil {
		return nil, nil
	}
	keys, err := store.Keys(ctx, snapshotPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(key, snapshotPrefix))
	}
	return names, nil
}
