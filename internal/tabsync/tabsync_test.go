package tabsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/storage"
	"github.com/closetconnect/closet-tracker/internal/tracker"
)

type recordingTarget struct {
	mu       sync.Mutex
	replaced [][]models.UploadRecord
	notify   chan struct{}
}

func newRecordingTarget() *recordingTarget {
	return &recordingTarget{notify: make(chan struct{}, 16)}
}

func (r *recordingTarget) Replace(records []models.UploadRecord) {
	r.mu.Lock()
	r.replaced = append(r.replaced, records)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recordingTarget) wait(t *testing.T, timeout time.Duration) []models.UploadRecord {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for Replace")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replaced[len(r.replaced)-1]
}

type chanSource struct {
	ch chan Update
}

func (c *chanSource) Updates() <-chan Update { return c.ch }
func (c *chanSource) Close() error           { close(c.ch); return nil }

func TestSynchronizerAppliesOnlySessionUser(t *testing.T) {
	src := &chanSource{ch: make(chan Update, 4)}
	target := newRecordingTarget()
	s := New(src, target, 42, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	src.ch <- Update{UserID: 7, Records: []models.UploadRecord{{ClothID: 1, UserID: 7}}}
	src.ch <- Update{UserID: 42, Records: []models.UploadRecord{{ClothID: 2, UserID: 42}}}

	got := target.wait(t, time.Second)
	if len(got) != 1 || got[0].ClothID != 2 {
		t.Errorf("Expected snapshot with cloth 2, got %+v", got)
	}

	src.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil error when source closes, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after source closed")
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.replaced) != 1 {
		t.Errorf("Expected exactly one Replace, got %d", len(target.replaced))
	}
}

func TestSynchronizerStopsOnContext(t *testing.T) {
	src := &chanSource{ch: make(chan Update)}
	s := New(src, newRecordingTarget(), 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFileSourceMirrorsOtherProcess(t *testing.T) {
	dir := t.TempDir()

	storeA, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer storeA.Close()
	storeB, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer storeB.Close()

	src, err := NewFileSource(storeB, nil)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	defer src.Close()

	target := newRecordingTarget()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(src, target, 42, nil).Run(ctx)

	// Process A tracks an upload; process B sees it.
	ledgerA := tracker.NewLedger(storeA, tracker.LedgerOptions{})
	regA := tracker.NewRegistry(storeA, ledgerA, 42, tracker.RegistryOptions{})
	if !regA.Add(100, 42) {
		t.Fatal("Add failed")
	}

	got := target.wait(t, 3*time.Second)
	if len(got) != 1 || got[0].ClothID != 100 || got[0].Status != models.StatusProcessing {
		t.Errorf("Expected cloth 100 PROCESSING, got %+v", got)
	}
}

func TestFileSourceIgnoresOwnWrites(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	src, err := NewFileSource(store, nil)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	defer src.Close()

	if err := store.Set(constants.StorageKeyUploadsOwner, "42"); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(constants.StorageKeyActiveUploads, "[]"); err != nil {
		t.Fatal(err)
	}

	select {
	case u := <-src.Updates():
		t.Errorf("Expected no update for own write, got %+v", u)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFileSourceCloseIsIdempotent(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	src, err := NewFileSource(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	src.Close()
	src.Close()

	if _, ok := <-src.Updates(); ok {
		t.Error("Expected Updates to be closed")
	}
}

// trackerProcess is one closet-tracker process on a shared storage dir.
type trackerProcess struct {
	store    *storage.FileStore
	registry *tracker.Registry
}

func openProcess(t *testing.T, dir string, userID int64) *trackerProcess {
	t.Helper()
	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	ledger := tracker.NewLedger(store, tracker.LedgerOptions{})
	return &trackerProcess{
		store:    store,
		registry: tracker.NewRegistry(store, ledger, userID, tracker.RegistryOptions{}),
	}
}

// follow starts mirroring other processes' writes into p's registry.
func (p *trackerProcess) follow(t *testing.T, userID int64) {
	t.Helper()
	src, err := NewFileSource(p.store, nil)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		src.Close()
	})
	go New(src, p.registry, userID, nil).Run(ctx)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestOneShotProcessKeepsReadyRecordsOfWatcher(t *testing.T) {
	dir := t.TempDir()

	watcher := openProcess(t, dir, 42)
	watcher.follow(t, 42)
	watcher.registry.Add(12, 42)
	if _, ok := watcher.registry.Complete(12); !ok {
		t.Fatal("Complete failed")
	}

	// A separate `track 13` run restores only PROCESSING records.
	oneShot := openProcess(t, dir, 42)
	if _, ok := oneShot.registry.Get(12); ok {
		t.Fatal("Fresh process should not restore READY records")
	}
	if !oneShot.registry.Add(13, 42) {
		t.Fatal("Add failed")
	}

	if !waitFor(t, 3*time.Second, func() bool {
		_, ok := watcher.registry.Get(13)
		return ok
	}) {
		t.Fatal("Watcher never saw cloth 13")
	}
	rec, ok := watcher.registry.Get(12)
	if !ok || rec.Status != models.StatusReadyForReview {
		t.Errorf("Expected watcher to keep cloth 12 READY_FOR_REVIEW, got %+v ok=%v", rec, ok)
	}

	// A later process still finds both records in storage.
	raw, _, err := oneShot.store.Get(constants.StorageKeyActiveUploads)
	if err != nil {
		t.Fatal(err)
	}
	if recs := tracker.DecodeRecords(raw, logging.Nop()); len(recs) != 2 {
		t.Errorf("Expected 2 persisted records, got %+v", recs)
	}
}

func TestReviewInOtherProcessRemovesWatcherRecord(t *testing.T) {
	dir := t.TempDir()

	watcher := openProcess(t, dir, 42)
	watcher.follow(t, 42)
	watcher.registry.Add(12, 42)
	watcher.registry.Add(14, 42)
	watcher.registry.Complete(12)

	// `review 12 --default` runs in its own process.
	reviewer := openProcess(t, dir, 42)
	if !reviewer.registry.Remove(12, false) {
		t.Fatal("Remove should report the record held in storage")
	}

	if !waitFor(t, 3*time.Second, func() bool {
		_, ok := watcher.registry.Get(12)
		return !ok
	}) {
		t.Fatal("Watcher still shows the reviewed cloth 12")
	}
	if _, ok := watcher.registry.Get(14); !ok {
		t.Error("Unrelated cloth 14 must stay tracked")
	}
	if reviewer.registry.Remove(12, false) {
		t.Error("Second Remove should find nothing")
	}
}

func TestFailedRecordSurvivesOtherProcessWrite(t *testing.T) {
	dir := t.TempDir()

	watcher := openProcess(t, dir, 42)
	watcher.follow(t, 42)
	watcher.registry.Add(20, 42)
	failed := models.StatusFailed
	msg := "segmentation failed"
	watcher.registry.Update(20, models.UploadPatch{Status: &failed, ErrorMessage: &msg})

	other := openProcess(t, dir, 42)
	other.registry.Add(21, 42)

	if !waitFor(t, 3*time.Second, func() bool {
		_, ok := watcher.registry.Get(21)
		return ok
	}) {
		t.Fatal("Watcher never saw cloth 21")
	}
	rec, ok := watcher.registry.Get(20)
	if !ok || rec.Status != models.StatusFailed || rec.ErrorMessage != msg {
		t.Errorf("Expected FAILED cloth 20 to stay until its grace removal, got %+v ok=%v", rec, ok)
	}
}

func TestFileSourceRepeatsForeignValueAfterOwnWrite(t *testing.T) {
	dir := t.TempDir()
	local, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer local.Close()
	remote, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer remote.Close()

	src, err := NewFileSource(local, nil)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	defer src.Close()

	target := newRecordingTarget()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(src, target, 42, nil).Run(ctx)

	snapshot := `[{"clothId":5,"userId":42,"status":"PROCESSING","timestamp":1}]`
	writeRemote := func() {
		t.Helper()
		err := remote.Update(func(items map[string]string) {
			items[constants.StorageKeyUploadsOwner] = "42"
			items[constants.StorageKeyActiveUploads] = snapshot
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	writeRemote()
	if got := target.wait(t, 3*time.Second); len(got) != 1 {
		t.Fatalf("Expected first snapshot, got %+v", got)
	}

	if err := local.Set(constants.StorageKeyActiveUploads, "[]"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	writeRemote()
	if got := target.wait(t, 3*time.Second); len(got) != 1 || got[0].ClothID != 5 {
		t.Errorf("Expected the restored snapshot to be delivered again, got %+v", got)
	}
}
