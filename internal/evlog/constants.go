package evlog

import "time"

// Protocol defaults
const (
	// DefaultMaxBytes caps a subscribe response when the caller does not set one.
	DefaultMaxBytes uint32 = 1024 * 1024

	// DefaultRetryDelay is the fixed delay between failed connection attempts.
	DefaultRetryDelay = 2 * time.Second

	// DefaultReadBufferSize is the socket read chunk size.
	DefaultReadBufferSize = 64 * 1024
)

// Log file defaults
const (
	DefaultAppDir        = ".evlog"
	DefaultLogDir        = "logs"
	DefaultLogFileName   = "evlog.log"
	DefaultLogMaxSize    = 100
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28
	DefaultLogLevel      = "info"
	DefaultConfigName    = "config.json"
	DefaultAddr          = "127.0.0.1:9999"
)
