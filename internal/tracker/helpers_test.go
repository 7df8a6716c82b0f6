package tracker

import (
	"sync"
	"time"

	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualTimers records scheduled callbacks so tests decide when the
// grace delay has elapsed.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualTimers) FireAll() {
	m.mu.Lock()
	pending := m.timers
	m.timers = nil
	m.mu.Unlock()
	for _, t := range pending {
		if !t.stopped {
			t.fn()
		}
	}
}

func (m *manualTimers) Scheduled() []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*manualTimer(nil), m.timers...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	ready  []int64
	failed []models.UploadRecord
}

func (n *recordingNotifier) UploadReady(rec models.UploadRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = append(n.ready, rec.ClothID)
}

func (n *recordingNotifier) UploadFailed(rec models.UploadRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, rec)
}

type harness struct {
	store    *storage.MemoryStore
	clock    *fakeClock
	ledger   *Ledger
	registry *Registry
	engine   *Engine
	timers   *manualTimers
	notifier *recordingNotifier
}

func newHarness(userID int64) *harness {
	return newHarnessWithStore(storage.NewMemoryStore(), userID)
}

func newHarnessWithStore(store *storage.MemoryStore, userID int64) *harness {
	h := &harness{
		store:    store,
		clock:    newFakeClock(),
		timers:   &manualTimers{},
		notifier: &recordingNotifier{},
	}
	h.ledger = NewLedger(store, LedgerOptions{Now: h.clock.Now})
	h.registry = NewRegistry(store, h.ledger, userID, RegistryOptions{Now: h.clock.Now})
	h.engine = NewEngine(h.registry, h.ledger, EngineOptions{
		GraceDelay: 3 * time.Second,
		Notifier:   h.notifier,
		AfterFunc:  h.timers.AfterFunc,
	})
	return h
}

func event(clothID, userID int64, status models.Status, pct int) models.ProgressEvent {
	ev := models.ProgressEvent{ClothID: clothID, UserID: userID, Status: status}
	if pct >= 0 {
		ev.ProgressPercentage = &pct
	}
	return ev
}

func strPtr(s string) *string { return &s }
