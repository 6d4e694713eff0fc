package binding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ShivKnp/CodeCrew/internal/models"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

// EditorBuffer is the live editable text the binding keeps in sync.
// InsertAt and DeleteAt are positional so an implementation can preserve
// the caret and undo stack outside the edited range; SetText is the
// fallback for structural changes.
type EditorBuffer interface {
	Text() string
	SetText(s string)
	InsertAt(offset int, s string)
	DeleteAt(offset, length int)
}

// DocConn is the document store connection the binding submits through.
// Submission is fire-and-forget; results come back as op events.
type DocConn interface {
	Snapshot() models.DocSnapshot
	SubmitOp(op models.Operation, source string) error
	SubmitPresence(peerID string, r *models.CursorRange) error
}

// Decoration styling classes.
const (
	ClassCaret     = "cursor-position"
	ClassSelection = "cursor-selection"
)

// Decoration is one rendered remote cursor or selection.
type Decoration struct {
	PeerID string
	Range  models.CursorRange
	Class  string
}

// Binding keeps one client's editor buffer and cursor decorations
// consistent with the shared document. Every op it submits carries its
// unique source tag; incoming ops with the same tag are echoes of local
// edits and are discarded before touching the buffer.
type Binding struct {
	source string
	conn   DocConn
	buf    EditorBuffer
	log    *utils.Logger

	mu       sync.Mutex
	lastText string
	input    string
	output   string
	lang     string
	cursors  map[string]models.CursorRange

	onField       func(field, value string)
	onDecorations func([]Decoration)
}

func New(conn DocConn, buf EditorBuffer, log *utils.Logger) *Binding {
	return &Binding{
		source:  uuid.New().String(),
		conn:    conn,
		buf:     buf,
		log:     log,
		cursors: make(map[string]models.CursorRange),
	}
}

// Source returns the binding's tag, also used as its presence id.
func (b *Binding) Source() string { return b.source }

// SetFieldListener registers the callback for input/output/lang changes.
func (b *Binding) SetFieldListener(fn func(field, value string)) {
	b.mu.Lock()
	b.onField = fn
	b.mu.Unlock()
}

// SetDecorationListener registers the callback invoked with the full
// decoration set after every presence update.
func (b *Binding) SetDecorationListener(fn func([]Decoration)) {
	b.mu.Lock()
	b.onDecorations = fn
	b.mu.Unlock()
}

// Initialize loads the store snapshot into the buffer and view state. The
// before != after guard keeps an unchanged default from firing a spurious
// initial change event.
func (b *Binding) Initialize() {
	snap := b.conn.Snapshot()

	b.mu.Lock()
	b.lastText = snap.Content
	fieldCbs := b.collectFieldUpdates(snap)
	b.mu.Unlock()

	b.buf.SetText(snap.Content)
	for _, cb := range fieldCbs {
		cb()
	}
}

// collectFieldUpdates must be called with b.mu held; the returned closures
// are invoked outside the lock.
func (b *Binding) collectFieldUpdates(snap models.DocSnapshot) []func() {
	var cbs []func()
	update := func(field, after string, slot *string) {
		if *slot == after {
			return
		}
		*slot = after
		if b.onField != nil {
			fn := b.onField
			cbs = append(cbs, func() { fn(field, after) })
		}
	}
	update(models.FieldInput, snap.Input, &b.input)
	update(models.FieldOutput, snap.Output, &b.output)
	update(models.FieldLang, snap.Lang, &b.lang)
	return cbs
}

// OnLocalEdit diffs the new buffer text against the last known text and
// submits one operation per contiguous change.
func (b *Binding) OnLocalEdit(newText string) {
	b.mu.Lock()
	old := b.lastText
	b.lastText = newText
	b.mu.Unlock()

	if old == newText {
		return
	}
	start, removed, inserted := diff(old, newText)
	if removed != "" {
		b.submit(models.Operation{
			P:           models.PathTo(models.FieldContent),
			SD:          removed,
			RangeOffset: start,
		})
	}
	if inserted != "" {
		b.submit(models.Operation{
			P:           models.PathTo(models.FieldContent),
			SI:          inserted,
			RangeOffset: start,
		})
	}
}

// SetField submits a whole-field replace for input/output/lang. Setting
// the current value again produces no operation.
func (b *Binding) SetField(field, value string) {
	b.mu.Lock()
	slot, ok := b.fieldSlot(field)
	if !ok {
		b.mu.Unlock()
		b.log.Warn("ignoring unknown field", "field", field)
		return
	}
	before := *slot
	if before == value {
		b.mu.Unlock()
		return
	}
	*slot = value
	b.mu.Unlock()

	b.submit(models.Operation{
		P:  models.PathTo(field),
		LI: &value,
		LD: &before,
	})
}

// Field returns the binding's current view of input/output/lang.
func (b *Binding) Field(field string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot, ok := b.fieldSlot(field); ok {
		return *slot
	}
	return ""
}

// fieldSlot must be called with b.mu held.
func (b *Binding) fieldSlot(field string) (*string, bool) {
	switch field {
	case models.FieldInput:
		return &b.input, true
	case models.FieldOutput:
		return &b.output, true
	case models.FieldLang:
		return &b.lang, true
	default:
		return nil, false
	}
}

func (b *Binding) submit(op models.Operation) {
	if err := b.conn.SubmitOp(op, b.source); err != nil {
		b.log.Error("submit operation", "field", op.P.Field, "error", err.Error())
	}
}

// HandleOp applies one remotely-originated operation. A failure degrades
// that single update; the binding keeps processing subsequent ops.
func (b *Binding) HandleOp(op models.Operation, source string) {
	if source == b.source {
		return
	}

	switch op.P.Field {
	case models.FieldInput, models.FieldOutput, models.FieldLang:
		if !op.IsReplace() {
			b.log.Warn("skipping malformed field op", "field", op.P.Field)
			return
		}
		b.applyFieldReplace(op.P.Field, *op.LI)
	case models.FieldContent:
		if op.P.Index == nil {
			// Parent-level change: re-read the whole field.
			snap := b.conn.Snapshot()
			b.mu.Lock()
			b.lastText = snap.Content
			b.mu.Unlock()
			b.buf.SetText(snap.Content)
			return
		}
		if err := b.applyContent(op); err != nil {
			b.log.Error("apply remote content op", "error", err.Error())
		}
	default:
		b.log.Warn("skipping op for unknown field", "field", op.P.Field)
	}
}

func (b *Binding) applyFieldReplace(field, value string) {
	b.mu.Lock()
	slot, _ := b.fieldSlot(field)
	if *slot == value {
		b.mu.Unlock()
		return
	}
	*slot = value
	fn := b.onField
	b.mu.Unlock()
	if fn != nil {
		fn(field, value)
	}
}

// applyContent applies the delete component before the insert, matching
// the store's transform order for ops that carry both.
func (b *Binding) applyContent(op models.Operation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if op.RangeOffset < 0 || op.RangeOffset > len(b.lastText) {
		return fmt.Errorf("content op offset %d out of range", op.RangeOffset)
	}
	if op.SD != "" {
		end := op.RangeOffset + len(op.SD)
		if end > len(b.lastText) {
			return fmt.Errorf("content op delete past end")
		}
		b.lastText = b.lastText[:op.RangeOffset] + b.lastText[end:]
		b.buf.DeleteAt(op.RangeOffset, len(op.SD))
	}
	if op.SI != "" {
		b.lastText = b.lastText[:op.RangeOffset] + op.SI + b.lastText[op.RangeOffset:]
		b.buf.InsertAt(op.RangeOffset, op.SI)
	}
	return nil
}

// HandlePresence upserts or removes one peer's cursor and recomputes the
// full decoration set.
func (b *Binding) HandlePresence(peerID string, r *models.CursorRange) {
	if peerID == b.source {
		return
	}
	b.mu.Lock()
	if r == nil {
		delete(b.cursors, peerID)
	} else {
		b.cursors[peerID] = *r
	}
	decorations := b.decorationsLocked()
	fn := b.onDecorations
	b.mu.Unlock()
	if fn != nil {
		fn(decorations)
	}
}

// SubmitCursor publishes the local selection; nil clears it.
func (b *Binding) SubmitCursor(r *models.CursorRange) {
	if err := b.conn.SubmitPresence(b.source, r); err != nil {
		b.log.Error("submit cursor presence", "error", err.Error())
	}
}

// Decorations returns the current decoration set.
func (b *Binding) Decorations() []Decoration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decorationsLocked()
}

// decorationsLocked must be called with b.mu held.
func (b *Binding) decorationsLocked() []Decoration {
	out := make([]Decoration, 0, len(b.cursors))
	for id, r := range b.cursors {
		class := ClassSelection
		if r.IsCaret() {
			class = ClassCaret
		}
		out = append(out, Decoration{PeerID: id, Range: r, Class: class})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// diff locates the single contiguous change between old and new: the text
// removed from old and the text inserted into new, both anchored at start.
func diff(old, new string) (start int, removed, inserted string) {
	for start < len(old) && start < len(new) && old[start] == new[start] {
		start++
	}
	endOld, endNew := len(old), len(new)
	for endOld > start && endNew > start && old[endOld-1] == new[endNew-1] {
		endOld--
		endNew--
	}
	return start, old[start:endOld], new[start:endNew]
}
