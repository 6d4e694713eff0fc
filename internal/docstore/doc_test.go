package docstore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ShivKnp/CodeCrew/internal/models"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

type eventCapture struct {
	mu       sync.Mutex
	init     *models.DocSnapshot
	ops      []models.Operation
	sources  []string
	presence map[string]*models.CursorRange
}

func newEventCapture() *eventCapture {
	return &eventCapture{presence: make(map[string]*models.CursorRange)}
}

func (c *eventCapture) OnInit(snap models.DocSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init = &snap
}

func (c *eventCapture) OnOp(op models.Operation, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
	c.sources = append(c.sources, source)
}

func (c *eventCapture) OnPresence(peerID string, r *models.CursorRange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == nil {
		c.presence[peerID] = nil
		return
	}
	cp := *r
	c.presence[peerID] = &cp
}

func (c *eventCapture) opCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

func strptr(s string) *string { return &s }

func insertOp(offset int, s string) models.Operation {
	return models.Operation{P: models.PathTo(models.FieldContent), SI: s, RangeOffset: offset}
}

func deleteOp(offset int, s string) models.Operation {
	return models.Operation{P: models.PathTo(models.FieldContent), SD: s, RangeOffset: offset}
}

func TestEnsureDocIdempotent(t *testing.T) {
	store := NewStore(utils.NewNopLogger())

	d1, created := store.EnsureDoc("session")
	if !created {
		t.Fatalf("first access must create the document")
	}
	snap := d1.Snapshot()
	if snap.Content != "" || snap.Input != "" || snap.Output != "" || snap.Lang != "" {
		t.Fatalf("new document must have empty defaults, got %#v", snap)
	}

	d2, created := store.EnsureDoc("session")
	if created || d2 != d1 {
		t.Fatalf("second access must return the same document")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 document, got %d", store.Len())
	}
}

func TestContentInsertDeleteRoundTrip(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())

	if err := d.SubmitOp(insertOp(0, "Hello World"), "a"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := d.SubmitOp(insertOp(5, "X"), "a"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := d.Snapshot().Content; got != "HelloX World" {
		t.Fatalf("expected %q, got %q", "HelloX World", got)
	}

	if err := d.SubmitOp(deleteOp(5, "X"), "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := d.Snapshot().Content; got != "Hello World" {
		t.Fatalf("expected %q, got %q", "Hello World", got)
	}
}

func TestContentOpsApplyInArrivalOrder(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())

	_ = d.SubmitOp(insertOp(0, "ab"), "a")
	_ = d.SubmitOp(insertOp(1, "X"), "b")
	_ = d.SubmitOp(deleteOp(0, "a"), "a")

	if got := d.Snapshot().Content; got != "Xb" {
		t.Fatalf("expected %q, got %q", "Xb", got)
	}
}

func TestFieldReplace(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())

	op := models.Operation{P: models.PathTo(models.FieldLang), LI: strptr("python"), LD: strptr("")}
	if err := d.SubmitOp(op, "a"); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := d.Snapshot().Lang; got != "python" {
		t.Fatalf("expected lang python, got %q", got)
	}

	op = models.Operation{P: models.PathTo(models.FieldInput), LI: strptr("1 2 3"), LD: strptr("")}
	if err := d.SubmitOp(op, "a"); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := d.Snapshot().Input; got != "1 2 3" {
		t.Fatalf("expected input set, got %q", got)
	}
}

func TestMalformedOpsRejectedAndDocUntouched(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())
	_ = d.SubmitOp(insertOp(0, "abc"), "a")
	capture := newEventCapture()
	d.Subscribe(capture)

	cases := []models.Operation{
		{P: models.PathTo("bogus"), SI: "x"},
		{P: models.PathTo(models.FieldLang), SI: "x"},
		{P: models.PathTo(models.FieldContent)},
		insertOp(99, "x"),
		deleteOp(1, "zzzzzz"),
	}
	for _, op := range cases {
		if err := d.SubmitOp(op, "a"); err == nil {
			t.Fatalf("expected rejection for %#v", op)
		}
	}
	if got := d.Snapshot().Content; got != "abc" {
		t.Fatalf("rejected ops must leave the document untouched, got %q", got)
	}
	if capture.opCount() != 0 {
		t.Fatalf("rejected ops must not fan out")
	}

	var unknown models.Operation
	unknown.P = models.PathTo("bogus")
	unknown.SI = "x"
	if err := d.SubmitOp(unknown, "a"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestFanOutIncludesEchoWithSource(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())
	c1 := newEventCapture()
	c2 := newEventCapture()
	d.Subscribe(c1)
	d.Subscribe(c2)

	if err := d.SubmitOp(insertOp(0, "hi"), "tag-1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for _, c := range []*eventCapture{c1, c2} {
		if c.opCount() != 1 {
			t.Fatalf("every subscriber, submitter included, must see the op")
		}
		if c.sources[0] != "tag-1" {
			t.Fatalf("op event must carry the submitter's source tag, got %q", c.sources[0])
		}
	}

	d.Unsubscribe(c2)
	_ = d.SubmitOp(insertOp(0, "x"), "tag-1")
	if c2.opCount() != 1 {
		t.Fatalf("unsubscribed listener must not receive further ops")
	}
}

func TestPresenceUpsertClearAndReplay(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())
	c1 := newEventCapture()
	d.Subscribe(c1)

	r := models.CursorRange{StartLine: 1, StartCol: 2, EndLine: 1, EndCol: 2}
	d.SubmitPresence("peer-a", &r)
	if got := c1.presence["peer-a"]; got == nil || *got != r {
		t.Fatalf("expected presence delivered, got %#v", got)
	}
	if d.PresenceCount() != 1 {
		t.Fatalf("expected 1 tracked cursor")
	}

	// A late joiner sees the existing cursor on subscribe.
	c2 := newEventCapture()
	d.Subscribe(c2)
	if got := c2.presence["peer-a"]; got == nil || *got != r {
		t.Fatalf("expected presence replayed to late joiner, got %#v", got)
	}

	d.SubmitPresence("peer-a", nil)
	if d.PresenceCount() != 0 {
		t.Fatalf("expected cursor cleared")
	}
	if got, ok := c1.presence["peer-a"]; !ok || got != nil {
		t.Fatalf("expected nil-range clear event, got %#v", got)
	}
}

type panickySubscriber struct{}

func (panickySubscriber) OnInit(models.DocSnapshot)              { panic("boom") }
func (panickySubscriber) OnOp(models.Operation, string)          { panic("boom") }
func (panickySubscriber) OnPresence(string, *models.CursorRange) { panic("boom") }

func TestBrokenSubscriberDoesNotPoisonFanOut(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())
	d.Subscribe(panickySubscriber{})
	healthy := newEventCapture()
	d.Subscribe(healthy)

	if err := d.SubmitOp(insertOp(0, "ok"), "a"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if healthy.opCount() != 1 {
		t.Fatalf("healthy subscriber must still receive the op")
	}
	if got := d.Snapshot().Content; got != "ok" {
		t.Fatalf("document must still apply, got %q", got)
	}
}

// replaySubscriber rebuilds the content field from its init snapshot plus
// the op stream, the way a remote client does.
type replaySubscriber struct {
	mu   sync.Mutex
	text string
}

func (r *replaySubscriber) OnInit(snap models.DocSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = snap.Content
}

func (r *replaySubscriber) OnOp(op models.Operation, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op.P.Field != models.FieldContent {
		return
	}
	if op.SD != "" {
		r.text = r.text[:op.RangeOffset] + r.text[op.RangeOffset+len(op.SD):]
	}
	if op.SI != "" {
		r.text = r.text[:op.RangeOffset] + op.SI + r.text[op.RangeOffset:]
	}
}

func (r *replaySubscriber) OnPresence(string, *models.CursorRange) {}

func (r *replaySubscriber) content() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

func TestFanOutPreservesApplicationOrder(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())
	replay := &replaySubscriber{}
	d.Subscribe(replay)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		ch := string(rune('a' + i))
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := d.SubmitOp(insertOp(0, ch), "w"); err != nil {
					t.Errorf("insert: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	want := d.Snapshot().Content
	if got := replay.content(); got != want {
		t.Fatalf("subscriber replayed %q but store holds %q", got, want)
	}
}

func TestSubscribeSnapshotAtomicWithStream(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = d.SubmitOp(insertOp(0, "x"), "w")
			}
		}
	}()

	// Subscribers attach mid-stream; each must see every op that is not
	// already in its init snapshot.
	subs := make([]*replaySubscriber, 0, 20)
	for i := 0; i < 20; i++ {
		r := &replaySubscriber{}
		d.Subscribe(r)
		subs = append(subs, r)
		time.Sleep(time.Millisecond)
	}
	close(stop)
	wg.Wait()

	want := d.Snapshot().Content
	for i, r := range subs {
		if got := r.content(); got != want {
			t.Fatalf("subscriber %d replayed %d chars but store holds %d", i, len(got), len(want))
		}
	}
}

func TestCombinedInsertDeleteAppliesDeleteFirst(t *testing.T) {
	d := newDoc("s", utils.NewNopLogger())
	_ = d.SubmitOp(insertOp(0, "Hello"), "a")
	replay := &replaySubscriber{}
	d.Subscribe(replay)

	op := models.Operation{P: models.PathTo(models.FieldContent), SI: "X", SD: "lo", RangeOffset: 3}
	if err := d.SubmitOp(op, "a"); err != nil {
		t.Fatalf("combined op: %v", err)
	}
	if got := d.Snapshot().Content; got != "HelX" {
		t.Fatalf("expected %q, got %q", "HelX", got)
	}
	if got := replay.content(); got != "HelX" {
		t.Fatalf("subscriber fold diverged from store: %q", got)
	}
}
