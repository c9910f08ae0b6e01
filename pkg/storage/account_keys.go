package storage

import (
	"fmt"

	"github.com/uhyunpark/noteswap/pkg/ledger"
)

// Key schema for Pebble storage:
//
//   acc:<accountID>            → ledger.Account snapshot
//   cn:<accountID>             → consumable notes of the account
//   trk:<accountID>            → tracked-account marker
//   sh                         → last synced block number (8 bytes BE)
//   ord:<accountID>:<noteID>   → orders.Record

const (
	prefixAccount    = "acc:"
	prefixConsumable = "cn:"
	prefixTracked    = "trk:"
	prefixOrder      = "ord:"
)

func accountKey(id ledger.AccountID) []byte {
	return []byte(prefixAccount + id.String())
}

func consumableKey(id ledger.AccountID) []byte {
	return []byte(prefixConsumable + id.String())
}

func trackedKey(id ledger.AccountID) []byte {
	return []byte(prefixTracked + id.String())
}

func trackedPrefix() []byte { return []byte(prefixTracked) }

func syncHeightKey() []byte { return []byte("sh") }

// orderKey returns the key for an order record
// Format: "ord:{accountID}:{noteID}"
func orderKey(id ledger.AccountID, noteID ledger.NoteID) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, id.String(), noteID.String()))
}

// orderPrefix returns the prefix for all orders of an account
func orderPrefix(id ledger.AccountID) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, id.String()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
