// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package uds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/stormfleet/infobroker/internal/kvstore"
	"github.com/stormfleet/infobroker/internal/logging"
)

// snapshotVersion guards against restoring dumps from incompatible layouts.
const snapshotVersion = 1

// snapshot is the on-disk dump format: zstd-compressed JSON.
type snapshot struct {
	Version int            `json:"version"`
	Entries map[string]any `json:"entries"`
}

// Export writes a zstd-compressed JSON dump of every stored entry to w.
// The underlying store must support enumeration.
func (u *UDS) Export(ctx context.Context, w io.Writer) error {
	enum, ok := u.store.(kvstore.Enumerable)
	if !ok {
		return fmt.Errorf("storage backend %T does not support enumeration; cannot export", u.store)
	}

	keys, err := enum.AllKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing keys for export: %w", err)
	}

	dump := snapshot{Version: snapshotVersion, Entries: make(map[string]any, len(keys))}
	for _, key := range keys {
		v, err := u.store.QueryItem(ctx, key)
		if err != nil {
			return fmt.Errorf("reading %q for export: %w", key, err)
		}
		dump.Entries[key] = v
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(&dump); err != nil {
		_ = zw.Close()
		return fmt.Errorf("could not encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("could not finish snapshot: %w", err)
	}
	logging.Infof("uds: exported %d entries", len(dump.Entries))
	return nil
}

// Import restores a dump produced by Export into the store. Existing
// entries under dumped keys are overwritten; other entries are untouched.
func (u *UDS) Import(ctx context.Context, r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zr.Close()

	var dump snapshot
	if err := json.NewDecoder(zr).Decode(&dump); err != nil {
		return fmt.Errorf("could not decode snapshot: %w", err)
	}
	if dump.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", dump.Version)
	}

	for key, value := range dump.Entries {
		if err := u.store.SetItem(ctx, key, value); err != nil {
			return fmt.Errorf("restoring %q: %w", key, err)
		}
	}
	logging.Infof("uds: imported %d entries", len(dump.Entries))
	return nil
}
