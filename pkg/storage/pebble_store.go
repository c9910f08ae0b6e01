package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/orders"
)

// PebbleStore is the local ledger cache and order-record store.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// NewMemPebbleStore opens a store backed by an in-memory filesystem.
func NewMemPebbleStore() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

// ============================================================================
// Ledger cache
// ============================================================================

// SaveAccount persists an account snapshot
func (s *PebbleStore) SaveAccount(acc *ledger.Account) error {
	data, err := encodeJSON("account", acc)
	if err != nil {
		return err
	}
	if err := s.db.Set(accountKey(acc.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// LoadAccount loads an account snapshot.
// Returns nil if the account was never cached.
func (s *PebbleStore) LoadAccount(id ledger.AccountID) (*ledger.Account, error) {
	data, ok, err := s.get(accountKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var acc ledger.Account
	if err := decodeJSON("account", data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *PebbleStore) SaveConsumable(id ledger.AccountID, notes []ledger.ConsumableNote) error {
	if notes == nil {
		notes = []ledger.ConsumableNote{}
	}
	data, err := encodeJSON("consumable notes", notes)
	if err != nil {
		return err
	}
	if err := s.db.Set(consumableKey(id), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save consumable notes: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadConsumable(id ledger.AccountID) ([]ledger.ConsumableNote, error) {
	data, ok, err := s.get(consumableKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get consumable notes: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var notes []ledger.ConsumableNote
	if err := decodeJSON("consumable notes", data, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func (s *PebbleStore) SaveSyncHeight(h uint64) error {
	return s.db.Set(syncHeightKey(), heightBytes(h), pebble.Sync)
}

func (s *PebbleStore) LoadSyncHeight() (uint64, error) {
	data, ok, err := s.get(syncHeightKey())
	if err != nil || !ok {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt sync height (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *PebbleStore) Track(id ledger.AccountID) error {
	return s.db.Set(trackedKey(id), nil, pebble.Sync)
}

func (s *PebbleStore) TrackedAccounts() ([]ledger.AccountID, error) {
	prefix := trackedPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []ledger.AccountID
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := ledger.ParseAccountID(string(iter.Key()[len(prefix):]))
		if err != nil {
			continue // Skip invalid entries
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var _ ledger.Cache = (*PebbleStore)(nil)

// ============================================================================
// Order records
// ============================================================================

// SaveOrder persists an order record, replacing any earlier version
func (s *PebbleStore) SaveOrder(rec *orders.Record) error {
	data, err := encodeJSON("order", rec)
	if err != nil {
		return err
	}
	if err := s.db.Set(orderKey(rec.Account, rec.NoteID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// DeleteOrder removes an order record
func (s *PebbleStore) DeleteOrder(id ledger.AccountID, noteID ledger.NoteID) error {
	if err := s.db.Delete(orderKey(id, noteID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// LoadOrders loads every order record of an account
func (s *PebbleStore) LoadOrders(id ledger.AccountID) ([]*orders.Record, error) {
	prefix := orderPrefix(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*orders.Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec orders.Record
		if err := decodeJSON("order", iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

var _ orders.Store = (*PebbleStore)(nil)
