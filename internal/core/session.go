// Package core assembles a tracking session: storage, registry, ledger,
// reconciliation engine, push channel, cross-process sync and the
// backend client, owned by one Session value.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/closetconnect/closet-tracker/internal/api"
	"github.com/closetconnect/closet-tracker/internal/auth"
	"github.com/closetconnect/closet-tracker/internal/config"
	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/events"
	inthttp "github.com/closetconnect/closet-tracker/internal/http"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/notify"
	"github.com/closetconnect/closet-tracker/internal/push"
	"github.com/closetconnect/closet-tracker/internal/review"
	"github.com/closetconnect/closet-tracker/internal/storage"
	"github.com/closetconnect/closet-tracker/internal/tabsync"
	"github.com/closetconnect/closet-tracker/internal/tracker"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("session closed")

// Options configures a Session.
type Options struct {
	Config *config.Config
	// Token is the access token. Empty gives an anonymous session that
	// never subscribes.
	Token  string
	Logger *logging.Logger

	// Notifier overrides desktop notifications.
	Notifier tracker.Notifier
	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
	// DisableSync skips the storage file watcher.
	DisableSync bool
	Now         func() time.Time
}

// Session owns every piece of tracker state for one signed-in user.
type Session struct {
	cfg    *config.Config
	logger *logging.Logger
	userID int64

	bus      *events.EventBus
	store    *storage.FileStore
	ledger   *tracker.Ledger
	registry *tracker.Registry
	engine   *tracker.Engine
	push     *push.Client
	source   *tabsync.FileSource
	sync     *tabsync.Synchronizer
	api      *api.Client
	review   *review.Workflow

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// New builds a session. Nothing runs in the background until Start.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var userID int64
	if opts.Token != "" {
		uid, err := auth.UserID(opts.Token, now())
		if err != nil {
			return nil, fmt.Errorf("failed to read access token: %w", err)
		}
		userID = uid
	}

	store, err := storage.NewFileStore(cfg.Tracker.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	client, err := api.NewClient(cfg, opts.Token, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		proxy, err := inthttp.NewProxyFunc(cfg, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to configure proxy: %w", err)
		}
		dialer = &websocket.Dialer{HandshakeTimeout: constants.HandshakeTimeout}
		if proxy != nil {
			dialer.Proxy = proxy
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewNotifier(&cfg.Notifications, logger)
	}

	bus := events.NewEventBus(0)
	ledger := tracker.NewLedger(store, tracker.LedgerOptions{
		Retention: cfg.DismissalRetention(),
		Logger:    logger,
		Now:       now,
	})
	registry := tracker.NewRegistry(store, ledger, userID, tracker.RegistryOptions{
		Bus:    bus,
		Logger: logger,
		Now:    now,
	})
	engine := tracker.NewEngine(registry, ledger, tracker.EngineOptions{
		GraceDelay: cfg.FailureGrace(),
		Notifier:   notifier,
		Bus:        bus,
		Logger:     logger,
	})
	pushClient := push.New(push.Config{
		URL:            cfg.EffectiveWSURL(),
		TopicPrefix:    cfg.Server.TopicPrefix,
		Token:          opts.Token,
		Heartbeat:      cfg.Heartbeat(),
		ReconnectDelay: cfg.ReconnectDelay(),
		Dialer:         dialer,
		Bus:            bus,
		Logger:         logger,
	})

	s := &Session{
		cfg:      cfg,
		logger:   logger.With("session"),
		userID:   userID,
		bus:      bus,
		store:    store,
		ledger:   ledger,
		registry: registry,
		engine:   engine,
		push:     pushClient,
		api:      client,
		review:   review.NewWorkflow(client, registry, logger),
	}

	if !opts.DisableSync {
		source, err := tabsync.NewFileSource(store, logger)
		if err != nil {
			// Cross-process sync is optional; this process stays authoritative.
			s.logger.Warn().Err(err).Msg("Storage watcher unavailable, cross-process sync disabled")
		} else {
			s.source = source
			s.sync = tabsync.New(source, registry, userID, logger)
		}
	}
	return s, nil
}

// Start connects the push channel and starts the engine and synchronizer.
// The session runs until ctx is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.engine.Run(ctx, s.push.Events())
	}()

	if s.sync != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.sync.Run(ctx)
		}()
	}

	s.push.Connect(ctx, s.userID)
	s.logger.Info().Int64("user_id", s.userID).Int("active", s.registry.Len()).Msg("Tracking session started")
	return nil
}

// Close tears the session down in reverse start order. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	s.push.Teardown()
	if cancel != nil {
		cancel()
	}
	if s.source != nil {
		_ = s.source.Close()
	}
	s.wg.Wait()
	s.engine.Close()
	s.bus.Close()
	return s.store.Close()
}

// UserID is the session user, 0 when anonymous.
func (s *Session) UserID() int64 { return s.userID }

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Bus returns the session event bus.
func (s *Session) Bus() *events.EventBus { return s.bus }

// Registry returns the upload registry.
func (s *Session) Registry() *tracker.Registry { return s.registry }

// Ledger returns the dismissal ledger.
func (s *Session) Ledger() *tracker.Ledger { return s.ledger }

// Engine returns the reconciliation engine.
func (s *Session) Engine() *tracker.Engine { return s.engine }

// Push returns the push channel client.
func (s *Session) Push() *push.Client { return s.push }

// API returns the backend client.
func (s *Session) API() *api.Client { return s.api }

// Review returns the review workflow.
func (s *Session) Review() *review.Workflow { return s.review }

// Track registers clothID for the session user. It reports false when
// the registry is owned by another user or the cloth is already tracked.
func (s *Session) Track(clothID int64) bool {
	return s.registry.Add(clothID, s.userID)
}
