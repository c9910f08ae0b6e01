package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// NetworkID selects the human readable prefix of bech32 account ids.
type NetworkID string

const (
	Testnet NetworkID = "testnet"
	Mainnet NetworkID = "mainnet"
)

// HRP returns the bech32 human readable part for the network.
func (n NetworkID) HRP() string {
	if n == Mainnet {
		return "mm"
	}
	return "mtst"
}

var ErrInvalidAccountID = errors.New("invalid account id")

// AccountID is an opaque ledger address made of two field elements.
// Note layouts always place the suffix before the prefix.
type AccountID struct {
	Prefix Felt
	Suffix Felt
}

func NewAccountID(prefix, suffix uint64) (AccountID, error) {
	p, err := NewFelt(prefix)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: prefix: %v", ErrInvalidAccountID, err)
	}
	s, err := NewFelt(suffix)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: suffix: %v", ErrInvalidAccountID, err)
	}
	return AccountID{Prefix: p, Suffix: s}, nil
}

func (a AccountID) IsZero() bool { return a.Prefix == 0 && a.Suffix == 0 }

// Bytes returns prefix || suffix, big endian.
func (a AccountID) Bytes() []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[:8], uint64(a.Prefix))
	binary.BigEndian.PutUint64(out[8:], uint64(a.Suffix))
	return out
}

// String returns the hex form used in logs, storage keys and JSON.
func (a AccountID) String() string { return "0x" + hex.EncodeToString(a.Bytes()) }

// Bech32 encodes the id for display and for the REST collaborators.
func (a AccountID) Bech32(network NetworkID) string {
	conv, err := bech32.ConvertBits(a.Bytes(), 8, 5, true)
	if err != nil {
		// ConvertBits only fails on malformed input; 16 bytes is always valid.
		panic(err)
	}
	encoded, err := bech32.Encode(network.HRP(), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// ParseAccountID accepts the 0x-hex form or any bech32 form.
func ParseAccountID(s string) (AccountID, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return AccountID{}, fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
		}
		return accountIDFromBytes(raw)
	}
	_, decoded, err := bech32.Decode(s)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: invalid bech32 string: %v", ErrInvalidAccountID, err)
	}
	raw, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: error converting bits: %v", ErrInvalidAccountID, err)
	}
	return accountIDFromBytes(raw)
}

func MustParseAccountID(s string) AccountID {
	id, err := ParseAccountID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func accountIDFromBytes(raw []byte) (AccountID, error) {
	if len(raw) != 16 {
		return AccountID{}, fmt.Errorf("%w: want 16 bytes, got %d", ErrInvalidAccountID, len(raw))
	}
	return NewAccountID(binary.BigEndian.Uint64(raw[:8]), binary.BigEndian.Uint64(raw[8:]))
}

func (a AccountID) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

func (a *AccountID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	id, err := ParseAccountID(s)
	if err != nil {
		return err
	}
	*a = id
	return nil
}
