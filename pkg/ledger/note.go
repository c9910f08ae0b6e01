package ledger

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// Digest is a 32-byte keccak commitment.
type Digest [32]byte

func (d Digest) String() string { return "0x" + hex.EncodeToString(d[:]) }

func (d Digest) IsZero() bool { return d == Digest{} }

func (d Digest) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Digest) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	out, err := ParseDigest(s)
	if err != nil {
		return err
	}
	*d = out
	return nil
}

func ParseDigest(s string) (Digest, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Digest{}, fmt.Errorf("digest: %w", err)
	}
	if len(raw) != 32 {
		return Digest{}, fmt.Errorf("digest: want 32 bytes, got %d", len(raw))
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// NoteID identifies a note by its contents (recipient and assets).
type NoteID = Digest

func keccak(parts ...[]byte) Digest {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// HashFelts commits to an ordered list of field elements.
func HashFelts(fs []Felt) Digest {
	return keccak(appendFelts(nil, fs...))
}

// NoteScript is compiled note code identified by its MAST root.
type NoteScript struct {
	Root Digest `json:"root"`
	Code []byte `json:"code"`
}

// NoteInputs is the ordered, positional argument list consumed by a note script.
type NoteInputs []Felt

// NoteRecipient binds a serial number, script and inputs.
type NoteRecipient struct {
	Serial Word       `json:"serial"`
	Script NoteScript `json:"script"`
	Inputs NoteInputs `json:"inputs"`
}

// Digest = H(H(serial) || script root || H(inputs)).
func (r NoteRecipient) Digest() Digest {
	serial := HashFelts(r.Serial.Felts())
	inputs := HashFelts(r.Inputs)
	return keccak(serial[:], r.Script.Root[:], inputs[:])
}

// NoteMetadata is public routing information; it is not part of the note id.
type NoteMetadata struct {
	Sender AccountID     `json:"sender"`
	Type   NoteType      `json:"note_type"`
	Tag    NoteTag       `json:"tag"`
	Hint   ExecutionHint `json:"execution_hint"`
	Aux    Felt          `json:"aux"`
}

// Note is a self-contained transfer intent.
type Note struct {
	Assets    []FungibleAsset `json:"assets"`
	Metadata  NoteMetadata    `json:"metadata"`
	Recipient NoteRecipient   `json:"recipient"`
}

// AssetsCommitment hashes the asset words in order.
func (n *Note) AssetsCommitment() Digest {
	fs := make([]Felt, 0, 4*len(n.Assets))
	for _, a := range n.Assets {
		fs = append(fs, a.Word().Felts()...)
	}
	return HashFelts(fs)
}

// ID = H(recipient digest || assets commitment).
func (n *Note) ID() NoteID {
	r := n.Recipient.Digest()
	a := n.AssetsCommitment()
	return keccak(r[:], a[:])
}

// Serialize produces the canonical byte form relayed for private notes.
func (n *Note) Serialize() ([]byte, error) {
	return rlp.EncodeToBytes(n)
}

func DeserializeNote(b []byte) (*Note, error) {
	var n Note
	if err := rlp.DecodeBytes(b, &n); err != nil {
		return nil, fmt.Errorf("decode note: %w", err)
	}
	return &n, nil
}

var ErrEmptyRequest = errors.New("transaction request has no notes")

// TransactionRequest bundles notes for submission. It has no identity of its own.
type TransactionRequest struct {
	Account      AccountID `json:"account_id"`
	Counterparty AccountID `json:"counterparty_id"`
	OutputNotes  []Note    `json:"own_output_notes,omitempty"`
	InputNoteIDs []NoteID  `json:"input_note_ids,omitempty"`
}

func (r *TransactionRequest) Validate() error {
	if r.Account.IsZero() {
		return fmt.Errorf("transaction request: zero account id")
	}
	if len(r.OutputNotes) == 0 && len(r.InputNoteIDs) == 0 {
		return ErrEmptyRequest
	}
	return nil
}

// Digest is what a signer authorizes: account, counterparty, output note ids and input note ids.
func (r *TransactionRequest) Digest() Digest {
	parts := [][]byte{r.Account.Bytes(), r.Counterparty.Bytes()}
	for i := range r.OutputNotes {
		id := r.OutputNotes[i].ID()
		parts = append(parts, id[:])
	}
	for _, id := range r.InputNoteIDs {
		parts = append(parts, id[:])
	}
	return keccak(parts...)
}

// SignedTransaction is a request plus the signer's authorization.
type SignedTransaction struct {
	Request   TransactionRequest `json:"request"`
	Signer    string             `json:"signer"`
	Signature string             `json:"signature"`
}
