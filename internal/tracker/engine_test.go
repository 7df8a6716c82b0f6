package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/storage"
)

func TestEngineAutoRegistration(t *testing.T) {
	h := newHarness(5)

	outcome := h.engine.Handle(event(7, 5, models.StatusProcessing, 10))
	if outcome != OutcomeRegistered {
		t.Errorf("Expected registered, got %s", outcome)
	}
	if h.registry.Len() != 1 {
		t.Fatalf("Expected exactly one record, got %d", h.registry.Len())
	}
	rec, _ := h.registry.Get(7)
	if rec.ProgressPercentage != 10 {
		t.Errorf("Expected event to be applied after registration, got %d%%", rec.ProgressPercentage)
	}

	h.engine.Handle(event(7, 5, models.StatusProcessing, 20))
	if h.registry.Len() != 1 {
		t.Errorf("Expected still one record, got %d", h.registry.Len())
	}
}

func TestEngineDismissalSuppression(t *testing.T) {
	h := newHarness(5)
	h.registry.Add(7, 5)
	h.registry.Remove(7, true)

	for i := 0; i < 3; i++ {
		h.clock.Advance(10 * time.Minute)
		if outcome := h.engine.Handle(event(7, 5, models.StatusProcessing, 50)); outcome != OutcomeSuppressed {
			t.Errorf("Expected suppressed, got %s", outcome)
		}
	}
	if h.registry.Len() != 0 {
		t.Errorf("Dismissed upload reappeared: %+v", h.registry.List())
	}
}

func TestEngineDismissalExpiry(t *testing.T) {
	h := newHarness(5)
	h.ledger.MarkDismissed(7)

	h.clock.Advance(61 * time.Minute)
	if outcome := h.engine.Handle(event(7, 5, models.StatusProcessing, 50)); outcome != OutcomeRegistered {
		t.Errorf("Expected registration after expiry, got %s", outcome)
	}
}

func TestEngineCrossUserIsolation(t *testing.T) {
	h := newHarness(0)
	h.registry.Add(1, 1)

	if outcome := h.engine.Handle(event(1, 2, models.StatusFailed, 0)); outcome != OutcomeForeignUser {
		t.Errorf("Expected foreign user, got %s", outcome)
	}
	if outcome := h.engine.Handle(event(8, 2, models.StatusProcessing, 0)); outcome != OutcomeForeignUser {
		t.Errorf("Expected foreign user, got %s", outcome)
	}

	if h.registry.Len() != 1 {
		t.Errorf("Foreign events must not create records, got %d", h.registry.Len())
	}
	rec, _ := h.registry.Get(1)
	if rec.Status != models.StatusProcessing {
		t.Errorf("Foreign event mutated record: %+v", rec)
	}
	if len(h.notifier.failed) != 0 {
		t.Error("Foreign event must not notify")
	}
}

func TestEngineSessionUserOwnsEmptyRegistry(t *testing.T) {
	h := newHarness(5)
	if outcome := h.engine.Handle(event(1, 6, models.StatusProcessing, 0)); outcome != OutcomeForeignUser {
		t.Errorf("Expected foreign user, got %s", outcome)
	}
	if h.registry.Len() != 0 {
		t.Error("Foreign events must not create records")
	}
}

func TestEngineCompletionDoesNotAutoRemove(t *testing.T) {
	h := newHarness(5)
	h.registry.Add(3, 5)

	if outcome := h.engine.Handle(event(3, 5, models.StatusReadyForReview, 100)); outcome != OutcomeCompleted {
		t.Errorf("Expected completed, got %s", outcome)
	}
	h.timers.FireAll()

	rec, ok := h.registry.Get(3)
	if !ok {
		t.Fatal("Completed record must stay until the user acts")
	}
	if rec.Status != models.StatusReadyForReview || rec.ProgressPercentage != 100 {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if len(h.timers.Scheduled()) != 0 {
		t.Error("Completion must not schedule removal")
	}
	if len(h.notifier.ready) != 1 || h.notifier.ready[0] != 3 {
		t.Errorf("Expected one ready notification for 3, got %v", h.notifier.ready)
	}
}

func TestEngineReadyNotifiesOnce(t *testing.T) {
	h := newHarness(5)
	h.registry.Add(3, 5)

	h.engine.Handle(event(3, 5, models.StatusReadyForReview, 100))
	h.engine.Handle(event(3, 5, models.StatusReadyForReview, 100))

	if len(h.notifier.ready) != 1 {
		t.Errorf("Expected one notification for a repeated completion, got %d", len(h.notifier.ready))
	}
}

func TestEngineFailureAutoRemoval(t *testing.T) {
	h := newHarness(5)
	h.registry.Add(4, 5)

	ev := event(4, 5, models.StatusFailed, 0)
	ev.ErrorMessage = strPtr("segmentation model unavailable")
	if outcome := h.engine.Handle(ev); outcome != OutcomeFailed {
		t.Errorf("Expected failed, got %s", outcome)
	}

	rec, ok := h.registry.Get(4)
	if !ok {
		t.Fatal("Failed record must stay visible until the grace delay elapses")
	}
	if rec.ErrorMessage != "segmentation model unavailable" {
		t.Errorf("Expected error message, got %q", rec.ErrorMessage)
	}
	if len(h.notifier.failed) != 1 || h.notifier.failed[0].ErrorMessage != "segmentation model unavailable" {
		t.Errorf("Expected failure alert, got %+v", h.notifier.failed)
	}

	scheduled := h.timers.Scheduled()
	if len(scheduled) != 1 || scheduled[0].delay != 3*time.Second {
		t.Fatalf("Expected one removal after 3s, got %+v", scheduled)
	}

	h.timers.FireAll()
	if _, ok := h.registry.Get(4); ok {
		t.Error("Failed record should be removed after the grace delay")
	}
	if h.ledger.IsDismissed(4) {
		t.Error("Failure removal is not a dismissal")
	}
}

func TestEngineFailureRemovalWithRealTimer(t *testing.T) {
	store := storage.NewMemoryStore()
	ledger := NewLedger(store, LedgerOptions{})
	registry := NewRegistry(store, ledger, 5, RegistryOptions{})
	engine := NewEngine(registry, ledger, EngineOptions{GraceDelay: 80 * time.Millisecond})
	defer engine.Close()

	registry.Add(4, 5)
	engine.Handle(event(4, 5, models.StatusFailed, 0))

	time.Sleep(20 * time.Millisecond)
	if _, ok := registry.Get(4); !ok {
		t.Fatal("Record removed before the grace delay")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := registry.Get(4); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Record was not removed after the grace delay")
}

func TestEngineGraceTimerMissingRecord(t *testing.T) {
	h := newHarness(5)
	h.registry.Add(4, 5)
	h.engine.Handle(event(4, 5, models.StatusFailed, 0))

	h.registry.Remove(4, true)
	h.timers.FireAll() // must not panic

	if h.registry.Len() != 0 {
		t.Error("Expected empty registry")
	}
}

func TestEngineGraceTimerKeepsReRegisteredRecord(t *testing.T) {
	h := newHarness(5)
	h.registry.Add(4, 5)
	h.engine.Handle(event(4, 5, models.StatusFailed, 0))

	// User retried: same id tracked again before the timer fires.
	h.registry.RemoveIf(4, false, nil)
	h.registry.Add(4, 5)
	h.timers.FireAll()

	if _, ok := h.registry.Get(4); !ok {
		t.Error("Timer must only remove a record that is still FAILED")
	}
}

func TestEngineTerminalStatesAreFinal(t *testing.T) {
	h := newHarness(5)
	h.registry.Add(1, 5)
	h.registry.Add(2, 5)

	h.engine.Handle(event(1, 5, models.StatusReadyForReview, 100))
	if outcome := h.engine.Handle(event(1, 5, models.StatusProcessing, 30)); outcome != OutcomeIgnored {
		t.Errorf("Expected ignored, got %s", outcome)
	}
	if rec, _ := h.registry.Get(1); rec.Status != models.StatusReadyForReview || rec.ProgressPercentage != 100 {
		t.Errorf("Ready record regressed: %+v", rec)
	}

	h.engine.Handle(event(2, 5, models.StatusFailed, 0))
	if outcome := h.engine.Handle(event(2, 5, models.StatusReadyForReview, 100)); outcome != OutcomeIgnored {
		t.Errorf("Expected ignored, got %s", outcome)
	}
	if len(h.notifier.ready) != 1 {
		t.Errorf("Failed record must not be completed, ready notifications: %v", h.notifier.ready)
	}
}

func TestEngineMissingFieldsKeepValues(t *testing.T) {
	h := newHarness(5)
	h.registry.Add(1, 5)

	ev := event(1, 5, models.StatusProcessing, 25)
	ev.CurrentStep = strPtr("Removing background")
	h.engine.Handle(ev)
	h.engine.Handle(event(1, 5, models.StatusProcessing, -1))

	rec, _ := h.registry.Get(1)
	if rec.ProgressPercentage != 25 || rec.CurrentStep != "Removing background" {
		t.Errorf("Missing fields should leave values unchanged: %+v", rec)
	}
}

func TestEngineHappyPath(t *testing.T) {
	h := newHarness(5)

	h.registry.Add(10, 5)
	h.engine.Handle(event(10, 5, models.StatusProcessing, 40))
	if rec, _ := h.registry.Get(10); rec.ProgressPercentage != 40 {
		t.Errorf("Expected 40%%, got %d", rec.ProgressPercentage)
	}

	h.engine.Handle(event(10, 5, models.StatusReadyForReview, 100))
	if rec, _ := h.registry.Get(10); rec.Status != models.StatusReadyForReview {
		t.Errorf("Expected READY_FOR_REVIEW, got %s", rec.Status)
	}

	h.registry.Remove(10, false)
	if h.registry.Len() != 0 {
		t.Errorf("Expected empty registry, got %+v", h.registry.List())
	}
}

func TestEngineReadsLiveRegistry(t *testing.T) {
	h := newHarness(5)
	ch := make(chan models.ProgressEvent)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx, ch) }()

	// Registered after Run started: the engine must still see it.
	h.registry.Add(10, 5)
	ch <- event(10, 5, models.StatusProcessing, 60)
	ch <- event(10, 5, models.StatusProcessing, 70)
	close(ch)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}

	rec, _ := h.registry.Get(10)
	if rec.ProgressPercentage != 70 {
		t.Errorf("Expected events applied in order ending at 70%%, got %d", rec.ProgressPercentage)
	}
	if h.registry.Len() != 1 {
		t.Errorf("Expected one record, got %d", h.registry.Len())
	}
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	h := newHarness(5)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx, make(chan models.ProgressEvent)) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestEngineCloseStopsTimers(t *testing.T) {
	h := newHarness(5)
	h.registry.Add(4, 5)
	h.engine.Handle(event(4, 5, models.StatusFailed, 0))

	if h.engine.PendingRemovals() != 1 {
		t.Fatalf("Expected one pending removal, got %d", h.engine.PendingRemovals())
	}
	h.engine.Close()
	h.engine.Close()

	if h.engine.PendingRemovals() != 0 {
		t.Error("Close should cancel pending removals")
	}
	for _, tm := range h.timers.Scheduled() {
		if !tm.stopped {
			t.Error("Timer not stopped on Close")
		}
	}
	if outcome := h.engine.Handle(event(4, 5, models.StatusFailed, 0)); outcome != OutcomeClosed {
		t.Errorf("Expected closed, got %s", outcome)
	}
}
