package ledger

import (
	"context"
)

// Client is the single network/ledger client. Implementations are not safe for
// concurrent use; callers serialize access through session.Handle.
type Client interface {
	// SyncState refreshes the local ledger view from the network.
	SyncState(ctx context.Context) (SyncSummary, error)
	// GetAccount returns the locally cached account, or nil if it is not tracked.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	// ImportAccount starts tracking a public account.
	ImportAccount(ctx context.Context, id AccountID) error
	// GetConsumableNotes lists notes the account may consume right now.
	GetConsumableNotes(ctx context.Context, id AccountID) ([]ConsumableNote, error)
	// CompileNoteScript translates script source, linked against libs, into a note script.
	CompileNoteScript(ctx context.Context, src ScriptSource, libs ...ScriptSource) (NoteScript, error)
	// SubmitTransaction proves and submits an authorized transaction, returning its id.
	SubmitTransaction(ctx context.Context, tx *SignedTransaction) (string, error)
}

// SyncSummary describes the result of one SyncState call.
type SyncSummary struct {
	BlockNum        uint64 `json:"block_num"`
	UpdatedAccounts int    `json:"updated_accounts"`
	NewNotes        int    `json:"new_notes"`
}

// ScriptSource is textual note code or a library, identified by a namespace.
type ScriptSource struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Account is the locally cached state of a ledger account.
type Account struct {
	ID      AccountID         `json:"id"`
	Nonce   uint64            `json:"nonce"`
	Vault   []FungibleAsset   `json:"vault"`
	Storage []StorageMapEntry `json:"storage"`
}

// StorageMapEntry is one key/value of a storage map slot.
type StorageMapEntry struct {
	Slot  uint8 `json:"slot"`
	Key   Word  `json:"key"`
	Value Word  `json:"value"`
}

// Balance returns the vault amount for a faucet, zero if absent.
func (a *Account) Balance(faucet AccountID) uint64 {
	if a == nil {
		return 0
	}
	var total uint64
	for _, asset := range a.Vault {
		if asset.Faucet == faucet {
			total += asset.Amount
		}
	}
	return total
}

// MapItem looks up a storage map entry.
func (a *Account) MapItem(slot uint8, key Word) (Word, bool) {
	if a == nil {
		return EmptyWord, false
	}
	for _, e := range a.Storage {
		if e.Slot == slot && e.Key == key {
			return e.Value, true
		}
	}
	return EmptyWord, false
}

// ConsumableNote is a note visible in ledger state that an account may consume.
type ConsumableNote struct {
	ID     NoteID          `json:"id"`
	Sender AccountID       `json:"sender"`
	Assets []FungibleAsset `json:"assets"`
}
