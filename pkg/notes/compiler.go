// Package notes encodes swap, deposit and withdraw intents into notes.
//
// Building a note is pure: given the intent, a compiled script, a serial
// number and the current time, the inputs and the note id are fully
// determined. Script compilation is the only step that needs the ledger
// client; it goes through a ScriptBackend (the session gate in production)
// and is cached per source so repeated intents do not touch the client.
package notes

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/util"
)

const DefaultDeadline = 120 * time.Second

type Kind string

const (
	KindSwap     Kind = "swap"
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// ==============================
// Scripts
// ==============================

//go:embed scripts/*.masm
var embedded embed.FS

const poolLibraryName = "zoro::two_asset_pool"

// Scripts holds the note script sources and the pool library they link against.
type Scripts struct {
	Library  ledger.ScriptSource
	Swap     ledger.ScriptSource
	Deposit  ledger.ScriptSource
	Withdraw ledger.ScriptSource
}

var scriptFiles = map[string]string{
	"library":  "two_asset_pool.masm",
	"swap":     "swap.masm",
	"deposit":  "deposit.masm",
	"withdraw": "withdraw.masm",
}

// DefaultScripts returns the sources bundled with the binary.
func DefaultScripts() Scripts {
	read := func(name string) string {
		b, err := embedded.ReadFile("scripts/" + name)
		if err != nil {
			panic(fmt.Sprintf("notes: missing embedded script %s", name))
		}
		return string(b)
	}
	return Scripts{
		Library:  ledger.ScriptSource{Name: poolLibraryName, Source: read(scriptFiles["library"])},
		Swap:     ledger.ScriptSource{Name: "swap", Source: read(scriptFiles["swap"])},
		Deposit:  ledger.ScriptSource{Name: "deposit", Source: read(scriptFiles["deposit"])},
		Withdraw: ledger.ScriptSource{Name: "withdraw", Source: read(scriptFiles["withdraw"])},
	}
}

// LoadScripts starts from the bundled sources and replaces each one found in dir.
func LoadScripts(dir string) (Scripts, error) {
	s := DefaultScripts()
	if dir == "" {
		return s, nil
	}
	slots := map[string]*ledger.ScriptSource{
		"library":  &s.Library,
		"swap":     &s.Swap,
		"deposit":  &s.Deposit,
		"withdraw": &s.Withdraw,
	}
	for key, file := range scriptFiles {
		b, err := os.ReadFile(filepath.Join(dir, file))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Scripts{}, fmt.Errorf("load script %s: %w", file, err)
		}
		slots[key].Source = string(b)
	}
	return s, nil
}

// ScriptBackend translates script source into a note script.
type ScriptBackend interface {
	CompileNoteScript(ctx context.Context, src ledger.ScriptSource, libs ...ledger.ScriptSource) (ledger.NoteScript, error)
}

// ScriptCache owns compiled scripts, keyed by a digest of library and source.
type ScriptCache struct {
	backend ScriptBackend

	mu      sync.Mutex
	scripts map[[32]byte]ledger.NoteScript
}

func NewScriptCache(backend ScriptBackend) *ScriptCache {
	return &ScriptCache{backend: backend, scripts: make(map[[32]byte]ledger.NoteScript)}
}

func scriptKey(src, lib ledger.ScriptSource) [32]byte {
	h := sha3.New256()
	for _, s := range []string{lib.Name, lib.Source, src.Name, src.Source} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	var k [32]byte
	copy(k[:], h.Sum(nil))
	return k
}

// Get returns the compiled script, compiling it through the backend on first use.
func (c *ScriptCache) Get(ctx context.Context, src, lib ledger.ScriptSource) (ledger.NoteScript, error) {
	key := scriptKey(src, lib)
	c.mu.Lock()
	script, ok := c.scripts[key]
	c.mu.Unlock()
	if ok {
		return script, nil
	}

	script, err := c.backend.CompileNoteScript(ctx, src, lib)
	if err != nil {
		return ledger.NoteScript{}, err
	}
	c.mu.Lock()
	c.scripts[key] = script
	c.mu.Unlock()
	return script, nil
}

func (c *ScriptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scripts)
}

// ==============================
// Serial numbers
// ==============================

// SerialSource yields note serial numbers. Production serials are random so
// two otherwise identical notes never share an id.
type SerialSource interface {
	Serial() (ledger.Word, error)
}

type randomSerials struct{}

func RandomSerials() SerialSource { return randomSerials{} }

func (randomSerials) Serial() (ledger.Word, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ledger.Word{}, fmt.Errorf("serial number: %w", err)
	}
	var w ledger.Word
	for i := range w {
		w[i] = ledger.Felt(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return w, nil
}

// FixedSerial always returns the same serial number.
type FixedSerial ledger.Word

func (f FixedSerial) Serial() (ledger.Word, error) { return ledger.Word(f), nil }

// ==============================
// Compiler
// ==============================

// Compiled is a note ready for submission. Only NoteID outlives the submission.
type Compiled struct {
	Kind     Kind
	Note     *ledger.Note
	NoteID   ledger.NoteID
	Pool     ledger.AccountID
	Sender   ledger.AccountID
	Deadline time.Time
}

type Compiler struct {
	scripts  Scripts
	cache    *ScriptCache
	serials  SerialSource
	clock    util.Clock
	deadline time.Duration
	logger   *zap.SugaredLogger
}

type Option func(*Compiler)

func WithSerials(s SerialSource) Option      { return func(c *Compiler) { c.serials = s } }
func WithClock(clock util.Clock) Option      { return func(c *Compiler) { c.clock = clock } }
func WithDeadline(d time.Duration) Option    { return func(c *Compiler) { c.deadline = d } }
func WithScripts(s Scripts) Option           { return func(c *Compiler) { c.scripts = s } }
func WithLogger(l *zap.SugaredLogger) Option { return func(c *Compiler) { c.logger = l } }

func NewCompiler(backend ScriptBackend, opts ...Option) *Compiler {
	c := &Compiler{
		scripts:  DefaultScripts(),
		cache:    NewScriptCache(backend),
		serials:  RandomSerials(),
		clock:    util.RealClock{},
		deadline: DefaultDeadline,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = util.OrNop(c.logger)
	return c
}

func (c *Compiler) Cache() *ScriptCache { return c.cache }

// Warm compiles every script up front.
func (c *Compiler) Warm(ctx context.Context) error {
	for kind, src := range map[Kind]ledger.ScriptSource{
		KindSwap:     c.scripts.Swap,
		KindDeposit:  c.scripts.Deposit,
		KindWithdraw: c.scripts.Withdraw,
	} {
		if _, err := c.script(ctx, kind, src); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) script(ctx context.Context, kind Kind, src ledger.ScriptSource) (ledger.NoteScript, error) {
	script, err := c.cache.Get(ctx, src, c.scripts.Library)
	if err != nil {
		return ledger.NoteScript{}, &CompilationError{Kind: kind, Field: "script", Err: err}
	}
	return script, nil
}

// envelope gathers what every intent needs besides its own fields.
func (c *Compiler) envelope(ctx context.Context, kind Kind, src ledger.ScriptSource) (ledger.NoteScript, ledger.Word, time.Time, error) {
	script, err := c.script(ctx, kind, src)
	if err != nil {
		return ledger.NoteScript{}, ledger.Word{}, time.Time{}, err
	}
	serial, err := c.serials.Serial()
	if err != nil {
		return ledger.NoteScript{}, ledger.Word{}, time.Time{}, &CompilationError{Kind: kind, Field: "serial", Err: err}
	}
	return script, serial, c.clock.Now().Add(c.deadline), nil
}

func (c *Compiler) finish(kind Kind, note *ledger.Note, pool, sender ledger.AccountID, deadline time.Time) *Compiled {
	out := &Compiled{
		Kind:     kind,
		Note:     note,
		NoteID:   note.ID(),
		Pool:     pool,
		Sender:   sender,
		Deadline: deadline,
	}
	c.logger.Debugw("note_compiled", "kind", kind, "note_id", out.NoteID, "deadline_ms", deadline.UnixMilli())
	return out
}

func deadlineFelt(t time.Time) ledger.Felt { return ledger.Felt(uint64(t.UnixMilli())) }

func checkAccount(kind Kind, field string, id ledger.AccountID) error {
	if id.IsZero() {
		return invalid(kind, field, "zero account id")
	}
	return nil
}

func checkFelt(kind Kind, field string, v uint64) error {
	if v >= ledger.Modulus {
		return invalid(kind, field, "exceeds field modulus")
	}
	return nil
}

func checkVisibility(kind Kind, t ledger.NoteType) error {
	if t != ledger.NotePublic && t != ledger.NotePrivate {
		return invalid(kind, "note_type", fmt.Sprintf("unknown visibility %d", t))
	}
	return nil
}

func metadata(sender ledger.AccountID, t ledger.NoteType, tag ledger.NoteTag) ledger.NoteMetadata {
	return ledger.NoteMetadata{
		Sender: sender,
		Type:   t,
		Tag:    tag,
		Hint:   ledger.HintAlways,
	}
}

// visibilityTag routes a public note to the pool and keeps a private one local.
func visibilityTag(kind Kind, t ledger.NoteType, pool ledger.AccountID) (ledger.NoteTag, error) {
	if t == ledger.NotePrivate {
		tag, err := ledger.TagForLocalUse(0, 0)
		if err != nil {
			return 0, &CompilationError{Kind: kind, Field: "tag", Err: err}
		}
		return tag, nil
	}
	return ledger.TagFromAccountID(pool), nil
}
