package tracker

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/storage"
)

// LedgerOptions configures a Ledger. Zero values select defaults.
type LedgerOptions struct {
	Retention time.Duration
	Logger    *logging.Logger
	Now       func() time.Time
}

// Ledger records uploads the user dismissed so late progress events
// cannot bring them back. Entries expire after the retention window and
// are purged lazily whenever the ledger is read.
type Ledger struct {
	mu        sync.Mutex
	store     storage.Store
	retention time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// NewLedger creates a ledger persisted in store.
func NewLedger(store storage.Store, opts LedgerOptions) *Ledger {
	l := &Ledger{
		store:     store,
		retention: opts.Retention,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if l.retention <= 0 {
		l.retention = constants.DismissalRetention
	}
	if l.logger == nil {
		l.logger = logging.Nop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// IsDismissed reports whether clothID has a live dismissal. Expired
// entries are purged and the purged ledger is written back.
func (l *Ledger) IsDismissed(clothID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.loadLocked()
	if l.purgeLocked(entries) {
		l.saveLocked(entries)
	}
	_, ok := entries[strconv.FormatInt(clothID, 10)]
	return ok
}

// MarkDismissed writes or refreshes the entry for clothID.
func (l *Ledger) MarkDismissed(clothID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.loadLocked()
	l.purgeLocked(entries)
	entries[strconv.FormatInt(clothID, 10)] = l.now().UnixMilli()
	l.saveLocked(entries)
}

// Dismissed returns the live dismissed ids in ascending order.
func (l *Ledger) Dismissed() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.loadLocked()
	if l.purgeLocked(entries) {
		l.saveLocked(entries)
	}
	ids := make([]int64, 0, len(entries))
	for k := range entries {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l *Ledger) loadLocked() map[string]int64 {
	entries := make(map[string]int64)

	raw, ok, err := l.store.Get(constants.StorageKeyDismissed)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Failed to read dismissed uploads")
		return entries
	}
	if !ok || raw == "" {
		return entries
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		l.logger.Warn().Err(err).Msg("Ignoring unreadable dismissed uploads")
		return make(map[string]int64)
	}
	return entries
}

func (l *Ledger) purgeLocked(entries map[string]int64) bool {
	cutoff := l.now().Add(-l.retention).UnixMilli()
	purged := false
	for k, ts := range entries {
		if ts <= cutoff {
			delete(entries, k)
			purged = true
		}
	}
	return purged
}

func (l *Ledger) saveLocked(entries map[string]int64) {
	data, err := json.Marshal(entries)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Failed to encode dismissed uploads")
		return
	}
	if err := l.store.Set(constants.StorageKeyDismissed, string(data)); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to persist dismissed uploads")
	}
}
