package docstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Jeffail/leaps/lib/text"

	"github.com/ShivKnp/CodeCrew/internal/metrics"
	"github.com/ShivKnp/CodeCrew/internal/models"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

// transformRetention is how long applied transforms are kept for late
// arrivals before FlushTransforms discards them, in seconds.
const transformRetention = 60

var (
	ErrUnknownField = errors.New("unknown document field")
	ErrBadOperation = errors.New("malformed operation")
)

// Subscriber receives document events. Callbacks run synchronously while
// the document is locked, in strict application order per document; they
// must not block and must not call back into the document. OnInit
// delivers the subscription-time snapshot before any other event. OnOp
// carries the submitter's source tag so a binding can drop its own
// echoes; OnPresence with a nil range clears that peer's cursor.
type Subscriber interface {
	OnInit(snap models.DocSnapshot)
	OnOp(op models.Operation, source string)
	OnPresence(peerID string, r *models.CursorRange)
}

// Doc is one shared document: a content field merged through an OT buffer
// plus three whole-value fields (input, output, lang), each addressable as
// [field, 0]. Operations are applied strictly in arrival order per field.
type Doc struct {
	ID string

	log *utils.Logger

	mu      sync.Mutex
	buffer  *text.OTBuffer
	content string
	input   string
	output  string
	lang    string

	subs     map[Subscriber]struct{}
	presence map[string]models.CursorRange
}

func newDoc(id string, log *utils.Logger) *Doc {
	return &Doc{
		ID:       id,
		log:      log,
		buffer:   text.NewOTBuffer("", text.NewOTBufferConfig()),
		subs:     make(map[Subscriber]struct{}),
		presence: make(map[string]models.CursorRange),
	}
}

// Snapshot returns the current value of every field.
func (d *Doc) Snapshot() models.DocSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// snapshotLocked must be called with d.mu held.
func (d *Doc) snapshotLocked() models.DocSnapshot {
	return models.DocSnapshot{
		Content: d.content,
		Input:   d.input,
		Output:  d.output,
		Lang:    d.lang,
		Version: d.buffer.GetVersion(),
	}
}

// Subscribe attaches a listener. The OnInit snapshot, the cursor presence
// replay and the registration all happen under one critical section, so
// every op submitted afterwards is delivered and every op submitted
// before is in the snapshot, with no window in between.
func (d *Doc) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[s] = struct{}{}
	deliver(d.log, func() { s.OnInit(d.snapshotLocked()) })
	for id, r := range d.presence {
		cursor := r
		deliver(d.log, func() { s.OnPresence(id, &cursor) })
	}
}

func (d *Doc) Unsubscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, s)
}

// SubmitOp validates and applies one operation, then fans the op event out
// to every subscriber, echo included. The fan-out runs while the document
// is still locked so every subscriber observes ops in application order;
// a rejected op leaves the document untouched and is not delivered.
func (d *Doc) SubmitOp(op models.Operation, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.apply(op); err != nil {
		return err
	}
	metrics.CountDocOp(op.P.Field)
	for s := range d.subs {
		sub := s
		deliver(d.log, func() { sub.OnOp(op, source) })
	}
	return nil
}

func (d *Doc) apply(op models.Operation) error {
	switch op.P.Field {
	case models.FieldContent:
		return d.applyContent(op)
	case models.FieldInput, models.FieldOutput, models.FieldLang:
		if !op.IsReplace() {
			return fmt.Errorf("%w: %s expects a replace", ErrBadOperation, op.P.Field)
		}
		switch op.P.Field {
		case models.FieldInput:
			d.input = *op.LI
		case models.FieldOutput:
			d.output = *op.LI
		case models.FieldLang:
			d.lang = *op.LI
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, op.P.Field)
	}
}

// applyContent merges one positional change through the OT buffer. An op
// carrying both si and sd replaces the deleted span with the inserted
// text, delete first; clients fold in the same order.
func (d *Doc) applyContent(op models.Operation) error {
	if op.SI == "" && op.SD == "" {
		return fmt.Errorf("%w: content op without insert or delete", ErrBadOperation)
	}
	if op.RangeOffset < 0 || op.RangeOffset > len(d.content) {
		return fmt.Errorf("%w: offset %d out of range", ErrBadOperation, op.RangeOffset)
	}
	if op.SD != "" && op.RangeOffset+len(op.SD) > len(d.content) {
		return fmt.Errorf("%w: delete past end of content", ErrBadOperation)
	}

	ot := text.OTransform{
		Version:  d.buffer.GetVersion() + 1,
		Position: op.RangeOffset,
		Insert:   op.SI,
		Delete:   len(op.SD),
	}
	if _, _, err := d.buffer.PushTransform(ot); err != nil {
		return err
	}
	if _, err := d.buffer.FlushTransforms(&d.content, transformRetention); err != nil {
		return err
	}
	return nil
}

// SubmitPresence upserts or clears one peer's cursor and fans it out.
func (d *Doc) SubmitPresence(peerID string, r *models.CursorRange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r == nil {
		delete(d.presence, peerID)
	} else {
		d.presence[peerID] = *r
	}
	for s := range d.subs {
		sub := s
		deliver(d.log, func() { sub.OnPresence(peerID, r) })
	}
}

// PresenceCount reports the number of tracked cursors.
func (d *Doc) PresenceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.presence)
}

// deliver invokes one listener, containing panics so a broken subscriber
// degrades a single update rather than the whole session.
func deliver(log *utils.Logger, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("document listener panicked", "panic", fmt.Sprint(rec))
		}
	}()
	fn()
}
