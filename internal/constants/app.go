package constants

import (
	"time"
)

// Application identity
const (
	// AppName is the binary name used in help text and default paths.
	AppName = "closet-tracker"

	// ConfigDirName is the directory under the user config dir holding
	// tracker.conf, the token file and per-user storage.
	ConfigDirName = "closetconnect"

	// WindowsConfigDirName is the APPDATA subdirectory used on Windows.
	WindowsConfigDirName = "ClosetConnect"
)

// Server defaults
const (
	// DefaultAPIURL is the backend REST base URL.
	DefaultAPIURL = "http://localhost:8080"

	// DefaultWSPath is appended to the API URL when no websocket URL is configured.
	// Spring's SockJS endpoint also answers raw websocket clients at /ws/websocket.
	DefaultWSPath = "/ws/websocket"

	// DefaultTopicPrefix is the per-user progress destination prefix.
	DefaultTopicPrefix = "/queue/cloth/progress/"
)

// Push channel timing
const (
	// ReconnectDelay - fixed delay between push reconnect attempts (5s)
	ReconnectDelay = 5 * time.Second

	// HeartbeatInterval - requested STOMP heart-beat in both directions (4000ms)
	HeartbeatInterval = 4000 * time.Millisecond

	// HeartbeatTolerance - incoming heart-beats may be this many intervals late
	// before the connection is treated as dead
	HeartbeatTolerance = 3

	// HandshakeTimeout - maximum time for websocket dial plus STOMP CONNECTED
	HandshakeTimeout = 15 * time.Second
)

// Reconciliation timing
const (
	// FailureGraceDelay - how long a FAILED record stays visible before removal (3s)
	FailureGraceDelay = 3 * time.Second

	// DismissalRetention - how long a dismissal suppresses auto-registration (1h)
	DismissalRetention = time.Hour
)

// Storage keys. These names are shared with every client of the same storage
// directory and must not change.
const (
	StorageKeyActiveUploads = "cloth_active_uploads"
	StorageKeyUploadsOwner  = "cloth_active_uploads_userId"
	StorageKeyDismissed     = "cloth_dismissed_uploads"
)

// Step labels written by the tracker itself
const (
	StepProcessingStarted = "AI processing started..."
	StepProcessingDone    = "Processing complete"
)

// Event bus configuration
const (
	// EventBusDefaultBuffer - default buffer size for event bus subscribers
	EventBusDefaultBuffer = 256
)

// REST client configuration
const (
	// MaxRetries - retries for transient REST failures
	MaxRetries = 3

	// RetryInitialDelay - initial delay before first retry (500ms)
	RetryInitialDelay = 500 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (10s)
	RetryMaxDelay = 10 * time.Second

	// RequestTimeout - per request timeout for REST calls
	RequestTimeout = 60 * time.Second

	// HTTPDialTimeout - TCP connect timeout
	HTTPDialTimeout = 10 * time.Second

	// HTTPDialKeepAlive - TCP keepalive interval
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPIdleConnTimeout - how long idle pooled connections are kept
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - TLS handshake timeout
	HTTPTLSHandshakeTimeout = 10 * time.Second

	// HTTPExpectContinueTimeout - wait for 100-continue on multipart uploads
	HTTPExpectContinueTimeout = 1 * time.Second

	// DefaultProxyPort - used when a basic or ntlm proxy has no port configured
	DefaultProxyPort = 8080
)

// Local read-model API
const (
	// DefaultLocalAPIListen - default listen address for `watch --listen`
	DefaultLocalAPIListen = "127.0.0.1:7391"

	// LocalAPIShutdownTimeout - graceful shutdown window for the local API
	LocalAPIShutdownTimeout = 5 * time.Second
)

// Progress rendering
const (
	// ProgressRefreshInterval - mpb refresh rate for the watch view
	ProgressRefreshInterval = 150 * time.Millisecond
)
