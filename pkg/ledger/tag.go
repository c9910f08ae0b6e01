package ledger

import "fmt"

// NoteType is the visibility of a note.
type NoteType uint8

const (
	NotePublic  NoteType = 1
	NotePrivate NoteType = 2
)

func (t NoteType) String() string {
	switch t {
	case NotePublic:
		return "public"
	case NotePrivate:
		return "private"
	}
	return fmt.Sprintf("NoteType(%d)", uint8(t))
}

func ParseNoteType(s string) (NoteType, error) {
	switch s {
	case "public", "":
		return NotePublic, nil
	case "private":
		return NotePrivate, nil
	}
	return 0, fmt.Errorf("unknown note type %q", s)
}

// NoteTag routes a note to its recipient without naming the recipient.
//
// Layout (32 bits):
//
//	bits 31..30  execution mode: 00 = account-derived, 11 = local use case
//	bits 29..16  account tag: top 14 bits of the account prefix, or the use case
//	bits 15..0   zero for account tags, payload for local use cases
type NoteTag uint32

const (
	tagLocalUseCase uint32 = 0b11 << 30
	tagUseCaseMask  uint32 = 0x3FFF
)

// TagFromAccountID derives the routing tag for notes addressed to id.
func TagFromAccountID(id AccountID) NoteTag {
	high := uint32(uint64(id.Prefix)>>50) & tagUseCaseMask
	return NoteTag(high << 16)
}

// TagForLocalUse builds a tag that is only meaningful to the local client,
// used for private notes that are relayed off-band.
func TagForLocalUse(useCase uint16, payload uint16) (NoteTag, error) {
	if uint32(useCase) > tagUseCaseMask {
		return 0, fmt.Errorf("use case %d exceeds 14 bits", useCase)
	}
	return NoteTag(tagLocalUseCase | uint32(useCase)<<16 | uint32(payload)), nil
}

func (t NoteTag) Uint32() uint32 { return uint32(t) }

func (t NoteTag) Felt() Felt { return Felt(t) }

func (t NoteTag) IsLocalUse() bool { return uint32(t)&tagLocalUseCase == tagLocalUseCase }

// ExecutionHint tells the network when a note may be consumed.
type ExecutionHint uint8

const (
	HintAlways ExecutionHint = 1
)
