// Package tracker holds the upload progress state machine: the registry
// of active uploads, the dismissal ledger, and the engine that reconciles
// push events against them.
package tracker

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/events"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/storage"
)

// RegistryOptions configures a Registry. Zero values select defaults.
type RegistryOptions struct {
	Bus    *events.EventBus
	Logger *logging.Logger
	Now    func() time.Time
}

type entry struct {
	rec models.UploadRecord
	seq uint64
}

// Registry is the authoritative list of active uploads for one user.
// Every mutation is merged into the persisted array: only the changed
// record is written or deleted, so records held by other processes on
// the same store survive. Persistence failures are logged and the
// in-memory state stays authoritative.
type Registry struct {
	mu      sync.Mutex
	records map[int64]*entry
	seq     uint64
	owner   int64

	store  storage.Store
	ledger *Ledger
	bus    *events.EventBus
	logger *logging.Logger
	now    func() time.Time
}

// NewRegistry creates the registry for userID and restores persisted
// state. Only PROCESSING records belonging to userID are restored; the
// rest stay in storage until a process removes them. When
// the persisted owner is a different user, the persisted uploads are
// cleared. userID 0 means the session user is not known yet; the
// registry then adopts the user of the first record added.
func NewRegistry(store storage.Store, ledger *Ledger, userID int64, opts RegistryOptions) *Registry {
	r := &Registry{
		records: make(map[int64]*entry),
		owner:   userID,
		store:   store,
		ledger:  ledger,
		bus:     opts.Bus,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.restore()
	return r
}

func (r *Registry) restore() {
	if r.owner == 0 {
		return
	}

	storedOwner, hasOwner, err := r.store.Get(constants.StorageKeyUploadsOwner)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to read persisted upload owner")
		return
	}
	if hasOwner && storedOwner != "" && storedOwner != strconv.FormatInt(r.owner, 10) {
		r.logger.Info().
			Str("stored_user", storedOwner).
			Int64("user_id", r.owner).
			Msg("Account switched, clearing persisted uploads")
		if err := r.store.Remove(constants.StorageKeyActiveUploads, constants.StorageKeyUploadsOwner); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to clear persisted uploads")
		}
		return
	}

	raw, ok, err := r.store.Get(constants.StorageKeyActiveUploads)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to read persisted uploads")
		return
	}
	if !ok {
		return
	}
	for _, rec := range DecodeRecords(raw, r.logger) {
		if rec.Status != models.StatusProcessing || rec.UserID != r.owner {
			continue
		}
		if _, dup := r.records[rec.ClothID]; dup {
			continue
		}
		r.insertLocked(rec)
	}
	if n := len(r.records); n > 0 {
		r.logger.Info().Int("count", n).Msg("Restored in-progress uploads")
	}
}

// DecodeRecords parses a persisted array, skipping records that fail
// validation instead of discarding the whole array.
func DecodeRecords(raw string, logger *logging.Logger) []models.UploadRecord {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		logger.Warn().Err(err).Msg("Ignoring unreadable persisted uploads")
		return nil
	}
	records := make([]models.UploadRecord, 0, len(items))
	for _, item := range items {
		var rec models.UploadRecord
		if err := json.Unmarshal(item, &rec); err != nil || rec.ClothID <= 0 {
			logger.Debug().Err(err).Msg("Skipping invalid persisted upload")
			continue
		}
		records = append(records, rec)
	}
	return records
}

// Owner returns the user the registry tracks: the session user, or when
// that is unknown the user of the current records. 0 means none.
func (r *Registry) Owner() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerLocked()
}

func (r *Registry) ownerLocked() int64 {
	if r.owner != 0 {
		return r.owner
	}
	for _, e := range r.records {
		return e.rec.UserID
	}
	return 0
}

// Add registers a new PROCESSING upload. It is a no-op returning false
// when clothID is already tracked, is dismissed, or belongs to a user
// other than the one the registry tracks.
func (r *Registry) Add(clothID, userID int64) bool {
	if r.ledger != nil && r.ledger.IsDismissed(clothID) {
		r.logger.Debug().Int64("cloth_id", clothID).Msg("Not adding dismissed upload")
		return false
	}

	r.mu.Lock()
	if _, exists := r.records[clothID]; exists {
		r.mu.Unlock()
		r.logger.Debug().Int64("cloth_id", clothID).Msg("Upload already tracked")
		return false
	}
	if owner := r.ownerLocked(); owner != 0 && owner != userID {
		r.mu.Unlock()
		r.logger.Warn().Int64("cloth_id", clothID).Int64("user_id", userID).Int64("owner", owner).Msg("Refusing upload for another user")
		return false
	}

	rec := models.UploadRecord{
		ClothID:     clothID,
		UserID:      userID,
		Status:      models.StatusProcessing,
		CurrentStep: constants.StepProcessingStarted,
		Timestamp:   r.now().UnixMilli(),
	}
	r.insertLocked(rec)
	r.persistLocked(clothID, &rec, nil)
	r.mu.Unlock()

	r.logger.Info().Int64("cloth_id", clothID).Int64("user_id", userID).Msg("Tracking upload")
	r.publish(events.EventUploadAdded, rec, false)
	return true
}

// Update merges patch into the record for clothID. It returns the
// updated record, or false with a diagnostic when clothID is not tracked.
func (r *Registry) Update(clothID int64, patch models.UploadPatch) (models.UploadRecord, bool) {
	r.mu.Lock()
	e, ok := r.records[clothID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn().Int64("cloth_id", clothID).Msg("Update for untracked upload")
		return models.UploadRecord{}, false
	}
	if patch.IsEmpty() {
		rec := e.rec
		r.mu.Unlock()
		return rec, true
	}
	e.rec = patch.Apply(e.rec)
	rec := e.rec
	r.persistLocked(clothID, &rec, nil)
	r.mu.Unlock()

	r.publish(events.EventUploadUpdated, rec, false)
	return rec, true
}

// Complete moves clothID to READY_FOR_REVIEW at 100%.
func (r *Registry) Complete(clothID int64) (models.UploadRecord, bool) {
	status := models.StatusReadyForReview
	step := constants.StepProcessingDone
	pct := 100
	rec, ok := r.Update(clothID, models.UploadPatch{
		Status:             &status,
		CurrentStep:        &step,
		ProgressPercentage: &pct,
	})
	if ok {
		r.publish(events.EventUploadCompleted, rec, false)
	}
	return rec, ok
}

// Remove deletes clothID from memory and from storage. With dismiss set a
// dismissal is recorded even when the record is not tracked, so a later
// event cannot register it. It reports whether a record was removed,
// including one that only another process was tracking.
func (r *Registry) Remove(clothID int64, dismiss bool) bool {
	if dismiss && r.ledger != nil {
		r.ledger.MarkDismissed(clothID)
	}
	return r.RemoveIf(clothID, dismiss, nil)
}

// RemoveIf deletes clothID only when keep is nil or returns true for the
// current record. A record found in neither memory nor storage is a no-op.
func (r *Registry) RemoveIf(clothID int64, dismissed bool, keep func(models.UploadRecord) bool) bool {
	r.mu.Lock()
	e, live := r.records[clothID]
	if live && keep != nil && !keep(e.rec) {
		r.mu.Unlock()
		return false
	}
	if live {
		delete(r.records, clothID)
	}
	stored, inStore := r.persistLocked(clothID, nil, keep)
	r.mu.Unlock()

	var rec models.UploadRecord
	switch {
	case live:
		rec = e.rec
	case inStore:
		rec = stored
	default:
		return false
	}

	r.logger.Info().Int64("cloth_id", clothID).Bool("dismissed", dismissed).Msg("Stopped tracking upload")
	r.publish(events.EventUploadRemoved, rec, dismissed)
	return true
}

// Get returns a copy of the record for clothID.
func (r *Registry) Get(clothID int64) (models.UploadRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[clothID]
	if !ok {
		return models.UploadRecord{}, false
	}
	return e.rec, true
}

// Len returns the number of tracked uploads.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// List returns the tracked uploads ordered by creation time, then by
// insertion order.
func (r *Registry) List() []models.UploadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

// Replace swaps the in-memory state for a snapshot written by another
// process. It does not persist: the snapshot is already in storage.
func (r *Registry) Replace(records []models.UploadRecord) {
	r.mu.Lock()
	r.records = make(map[int64]*entry, len(records))
	for _, rec := range records {
		if _, dup := r.records[rec.ClothID]; dup {
			continue
		}
		r.insertLocked(rec)
	}
	list := r.listLocked()
	r.mu.Unlock()

	r.logger.Debug().Int("count", len(list)).Msg("Registry replaced from storage")
	if r.bus != nil {
		r.bus.PublishReplaced(list)
	}
}

func (r *Registry) insertLocked(rec models.UploadRecord) {
	r.seq++
	r.records[rec.ClothID] = &entry{rec: rec, seq: r.seq}
}

func (r *Registry) listLocked() []models.UploadRecord {
	entries := make([]*entry, 0, len(r.records))
	for _, e := range r.records {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rec.Timestamp != entries[j].rec.Timestamp {
			return entries[i].rec.Timestamp < entries[j].rec.Timestamp
		}
		return entries[i].seq < entries[j].seq
	})
	list := make([]models.UploadRecord, len(entries))
	for i, e := range entries {
		list[i] = e.rec
	}
	return list
}

// persistLocked merges one change into the persisted array in a single
// store update. A non-nil rec replaces or appends clothID; a nil rec
// deletes it, but only when keep is nil or accepts the stored record.
// It returns the stored record for clothID before the change, if any.
//
// When storage belongs to another user the array is rebuilt from this
// registry alone.
func (r *Registry) persistLocked(clothID int64, rec *models.UploadRecord, keep func(models.UploadRecord) bool) (models.UploadRecord, bool) {
	var (
		prev  models.UploadRecord
		found bool
	)
	owner := r.ownerLocked()

	err := r.store.Update(func(items map[string]string) {
		storedOwner := items[constants.StorageKeyUploadsOwner]
		var stored []models.UploadRecord
		if owner != 0 && storedOwner != "" && storedOwner != strconv.FormatInt(owner, 10) {
			stored = r.listLocked()
		} else if raw, ok := items[constants.StorageKeyActiveUploads]; ok {
			stored = DecodeRecords(raw, r.logger)
		}

		merged := make([]models.UploadRecord, 0, len(stored)+1)
		for _, s := range stored {
			if s.ClothID != clothID {
				merged = append(merged, s)
				continue
			}
			if found {
				continue
			}
			prev, found = s, true
			if rec == nil && keep != nil && !keep(s) {
				merged = append(merged, s)
			}
		}
		if rec != nil {
			merged = append(merged, *rec)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp < merged[j].Timestamp
		})

		data, err := json.Marshal(merged)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Failed to encode uploads")
			return
		}
		if owner != 0 {
			items[constants.StorageKeyUploadsOwner] = strconv.FormatInt(owner, 10)
		}
		items[constants.StorageKeyActiveUploads] = string(data)
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to persist uploads")
		return models.UploadRecord{}, false
	}
	if rec == nil && found && keep != nil && !keep(prev) {
		return prev, false
	}
	return prev, found
}

func (r *Registry) publish(t events.EventType, rec models.UploadRecord, dismissed bool) {
	if r.bus != nil {
		r.bus.PublishUpload(t, rec, dismissed)
	}
}
