package consts

import "time"

// Network defaults
const (
	// DefaultPort is the TCP port the dispatcher listens on
	DefaultPort = 19100
	// DefaultBacklog is the listen backlog recorded in config
	DefaultBacklog = 4
	// DefaultListenAddress binds all interfaces
	DefaultListenAddress = "0.0.0.0"
	// DefaultAdminAddress is where the admin HTTP API listens
	DefaultAdminAddress = "127.0.0.1:19101"
)

// Pool defaults
const (
	// DefaultPoolSize is the number of worker slots
	DefaultPoolSize = 3
	// MaxPoolSize caps the configured pool size
	MaxPoolSize = 1024
)

// Protocol sizes
const (
	// CommandChunkSize is the maximum number of bytes taken per command read
	CommandChunkSize = 3
	// HandshakeSize is the number of role bytes read after admission
	HandshakeSize = 1
	// MaxAdmissionSize bounds the admission response a client will read
	MaxAdmissionSize = 256
)

// Timeouts for various operations
const (
	// AcceptBackoffInitial is the first delay after a failed accept
	AcceptBackoffInitial = 5 * time.Millisecond
	// AcceptBackoffMax caps the delay between failed accepts
	AcceptBackoffMax = 1 * time.Second
	// AdminShutdownTimeout bounds graceful admin server shutdown
	AdminShutdownTimeout = 5 * time.Second
	// AdminReadTimeout is the admin server read timeout
	AdminReadTimeout = 10 * time.Second
	// DialTimeout is the default client dial timeout
	DialTimeout = 5 * time.Second
	// WebSocketWriteTimeout bounds a single websocket write
	WebSocketWriteTimeout = 10 * time.Second
	// WebSocketPingInterval is how often idle websocket subscribers are pinged
	WebSocketPingInterval = 30 * time.Second
)
