// Package tabsync mirrors registry snapshots written by other tracker
// processes sharing the same storage directory. The newest write wins;
// snapshots are never merged.
package tabsync

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/storage"
	"github.com/closetconnect/closet-tracker/internal/tracker"
)

// Update is an active-uploads snapshot written by another process.
type Update struct {
	UserID  int64
	Records []models.UploadRecord
}

// Source delivers snapshots written elsewhere.
type Source interface {
	Updates() <-chan Update
	Close() error
}

// Target receives snapshots. *tracker.Registry implements it.
type Target interface {
	Replace(records []models.UploadRecord)
}

// Synchronizer applies updates for one user to a local target.
type Synchronizer struct {
	source Source
	target Target
	userID int64
	logger *logging.Logger
}

// New creates a Synchronizer for userID.
func New(source Source, target Target, userID int64, logger *logging.Logger) *Synchronizer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Synchronizer{
		source: source,
		target: target,
		userID: userID,
		logger: logger.With("tabsync"),
	}
}

// Run applies updates until ctx is done or the source closes.
func (s *Synchronizer) Run(ctx context.Context) error {
	updates := s.source.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			s.apply(u)
		}
	}
}

func (s *Synchronizer) apply(u Update) {
	if u.UserID != s.userID {
		s.logger.Debug().
			Int64("user_id", u.UserID).
			Msg("Ignoring snapshot for another user")
		return
	}
	s.target.Replace(u.Records)
}

// FileSource watches a FileStore's directory and emits the active uploads
// whenever another process rewrites the storage document.
type FileSource struct {
	store   *storage.FileStore
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	updates chan Update

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	last string
}

// NewFileSource starts watching store.Dir().
func NewFileSource(store *storage.FileStore, logger *logging.Logger) (*FileSource, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(store.Dir()); err != nil {
		watcher.Close()
		return nil, err
	}

	fs := &FileSource{
		store:   store,
		watcher: watcher,
		logger:  logger.With("tabsync"),
		updates: make(chan Update, 8),
		done:    make(chan struct{}),
	}
	fs.wg.Add(1)
	go fs.loop()
	return fs, nil
}

// Updates implements Source.
func (fs *FileSource) Updates() <-chan Update {
	return fs.updates
}

// Close stops the watcher and closes Updates.
func (fs *FileSource) Close() error {
	var err error
	fs.closeOnce.Do(func() {
		close(fs.done)
		err = fs.watcher.Close()
		fs.wg.Wait()
		close(fs.updates)
	})
	return err
}

func (fs *FileSource) loop() {
	defer fs.wg.Done()
	for {
		select {
		case <-fs.done:
			return
		case ev, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != storage.FileName {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			fs.check()
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Warn().Err(err).Msg("Storage watcher error")
		}
	}
}

// check reads the document and emits it when another process wrote an
// active-uploads value different from the last one seen.
func (fs *FileSource) check() {
	snap, err := fs.store.ReadSnapshot()
	if err != nil {
		if !errors.Is(err, storage.ErrClosed) {
			fs.logger.Debug().Err(err).Msg("Storage not readable yet")
		}
		return
	}
	raw := snap.Items[constants.StorageKeyActiveUploads]
	owner := snap.Items[constants.StorageKeyUploadsOwner]
	key := owner + "\x00" + raw

	// Own writes still move last, so a later foreign write that restores
	// an earlier value is not mistaken for a repeat.
	if snap.Origin == fs.store.Origin() {
		fs.last = key
		return
	}
	if key == fs.last {
		return
	}
	fs.last = key

	userID, _ := strconv.ParseInt(owner, 10, 64)
	var records []models.UploadRecord
	if raw != "" {
		records = tracker.DecodeRecords(raw, fs.logger)
	}

	select {
	case fs.updates <- Update{UserID: userID, Records: records}:
	case <-fs.done:
	}
}
