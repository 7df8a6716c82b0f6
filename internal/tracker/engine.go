package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/events"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/models"
)

// Notifier surfaces terminal upload states to the user. Implementations
// are best effort and must not block for long.
type Notifier interface {
	UploadReady(rec models.UploadRecord)
	UploadFailed(rec models.UploadRecord)
}

// Timer is the subset of *time.Timer the engine needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through
// the adapter in NewEngine; tests inject a manual clock.
type AfterFunc func(d time.Duration, f func()) Timer

// Outcome describes what Handle did with an event.
type Outcome int

const (
	OutcomeUpdated    Outcome = iota // applied to a tracked record
	OutcomeRegistered                // record created from the event, then applied
	OutcomeCompleted                 // moved to READY_FOR_REVIEW
	OutcomeFailed                    // moved to FAILED, removal scheduled
	OutcomeForeignUser               // event for another user, dropped
	OutcomeSuppressed                // untracked and dismissed, dropped
	OutcomeIgnored                   // transition out of a terminal state, dropped
	OutcomeClosed                    // engine closed
)

var outcomeNames = map[Outcome]string{
	OutcomeUpdated:     "updated",
	OutcomeRegistered:  "registered",
	OutcomeCompleted:   "completed",
	OutcomeFailed:      "failed",
	OutcomeForeignUser: "foreign_user",
	OutcomeSuppressed:  "suppressed",
	OutcomeIgnored:     "ignored",
	OutcomeClosed:      "closed",
}

func (o Outcome) String() string { return outcomeNames[o] }

// EngineOptions configures an Engine. Zero values select defaults.
type EngineOptions struct {
	GraceDelay time.Duration
	Notifier   Notifier
	Bus        *events.EventBus
	Logger     *logging.Logger
	AfterFunc  AfterFunc
}

// Engine reconciles progress events against the live registry. Events
// must be handed to it in delivery order; Run does that for a channel.
type Engine struct {
	registry   *Registry
	ledger     *Ledger
	notifier   Notifier
	bus        *events.EventBus
	logger     *logging.Logger
	graceDelay time.Duration
	afterFunc  AfterFunc

	mu     sync.Mutex
	timers map[int64]Timer
	closed bool
}

// NewEngine creates an engine over registry and ledger.
func NewEngine(registry *Registry, ledger *Ledger, opts EngineOptions) *Engine {
	e := &Engine{
		registry:   registry,
		ledger:     ledger,
		notifier:   opts.Notifier,
		bus:        opts.Bus,
		logger:     opts.Logger,
		graceDelay: opts.GraceDelay,
		afterFunc:  opts.AfterFunc,
		timers:     make(map[int64]Timer),
	}
	if e.logger == nil {
		e.logger = logging.Nop()
	}
	e.logger = e.logger.With("engine")
	if e.graceDelay <= 0 {
		e.graceDelay = constants.FailureGraceDelay
	}
	if e.afterFunc == nil {
		e.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return e
}

// Run handles events from ch one at a time until ch is closed or ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context, ch <-chan models.ProgressEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			e.Handle(ev)
		}
	}
}

// Handle reconciles one event.
func (e *Engine) Handle(ev models.ProgressEvent) Outcome {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return OutcomeClosed
	}

	log := e.logger

	if owner := e.registry.Owner(); owner != 0 && owner != ev.UserID {
		log.Debug().Int64("cloth_id", ev.ClothID).Int64("user_id", ev.UserID).Int64("owner", owner).Msg("Dropping event for another user")
		return OutcomeForeignUser
	}

	outcome := OutcomeUpdated
	current, tracked := e.registry.Get(ev.ClothID)
	if !tracked {
		if e.ledger != nil && e.ledger.IsDismissed(ev.ClothID) {
			log.Debug().Int64("cloth_id", ev.ClothID).Msg("Dropping event for dismissed upload")
			return OutcomeSuppressed
		}
		if !e.registry.Add(ev.ClothID, ev.UserID) {
			// Lost a race with a dismissal or another user's record.
			return OutcomeSuppressed
		}
		current, tracked = e.registry.Get(ev.ClothID)
		if !tracked {
			return OutcomeSuppressed
		}
		log.Info().Int64("cloth_id", ev.ClothID).Msg("Registered upload from progress event")
		outcome = OutcomeRegistered
	}

	if !current.Status.CanTransition(ev.Status) {
		log.Debug().
			Int64("cloth_id", ev.ClothID).
			Str("status", string(current.Status)).
			Str("event_status", string(ev.Status)).
			Msg("Ignoring event for finished upload")
		return OutcomeIgnored
	}

	updated, ok := e.registry.Update(ev.ClothID, ev.Patch())
	if !ok {
		return OutcomeSuppressed
	}

	switch ev.Status {
	case models.StatusReadyForReview:
		rec, ok := e.registry.Complete(ev.ClothID)
		if !ok {
			return OutcomeSuppressed
		}
		if current.Status != models.StatusReadyForReview {
			log.Info().Int64("cloth_id", ev.ClothID).Msg("Upload ready for review")
			if e.notifier != nil {
				e.notifier.UploadReady(rec)
			}
		}
		return OutcomeCompleted

	case models.StatusFailed:
		if current.Status != models.StatusFailed {
			log.Warn().Int64("cloth_id", ev.ClothID).Str("error", updated.ErrorMessage).Msg("Upload processing failed")
			if e.bus != nil {
				e.bus.PublishUpload(events.EventUploadFailed, updated, false)
			}
			if e.notifier != nil {
				e.notifier.UploadFailed(updated)
			}
			e.scheduleRemoval(ev.ClothID)
		}
		return OutcomeFailed
	}

	return outcome
}

// scheduleRemoval removes a FAILED record after the grace delay. The
// timer is a no-op if the record is gone or no longer FAILED by then.
func (e *Engine) scheduleRemoval(clothID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[clothID]; ok {
		t.Stop()
	}
	e.timers[clothID] = e.afterFunc(e.graceDelay, func() {
		e.mu.Lock()
		delete(e.timers, clothID)
		e.mu.Unlock()

		e.registry.RemoveIf(clothID, false, func(rec models.UploadRecord) bool {
			return rec.Status == models.StatusFailed
		})
	})
}

// PendingRemovals returns the number of scheduled failure removals.
func (e *Engine) PendingRemovals() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Close stops outstanding removal timers. Handle is a no-op afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}
