package nimbus

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the environment-sourced configuration enumerated in the
// external-interfaces contract: listener bind host/port, the store's
// backing directory, and the path to the resident listener executable the
// Messenger spawns when a loopback destination is unreachable.
type Config struct {
	// Port is read from `port` (default 7171). cmd/nimbusd binds its
	// listener to ListenAddr and does not read Port.
	Port uint16

	// IP is read from `ip_addr` (default 127.0.0.1). cmd/nimbusd does not
	// read IP.
	IP string

	// DBPath is the directory holding the store file. Required.
	DBPath string

	// ListenAddr is the full bind address (default 0.0.0.0:7171).
	ListenAddr string

	// ResidentListener is the filesystem path to the listener executable
	// Messenger auto-spawns when the loopback destination is down.
	ResidentListener string

	// BufferMaxSize is always 5; no environment variable sets it. The store
	// does not read it and uses its own store.BufferMaxSize threshold.
	BufferMaxSize int

	// FetchLimit is always 1000; no environment variable sets it. The store
	// does not read it and caps MessagesFrom with its own store.FetchLimit.
	FetchLimit int
}

const (
	defaultPort             = 7171
	defaultIP               = "127.0.0.1"
	defaultListenAddr       = "0.0.0.0:7171"
	defaultBufferMaxSize    = 5
	defaultFetchLimit       = 1000
	defaultStmtCacheSize    = 100
	defaultEventMaxAgeMilli = 1000
)

// LoadConfig reads configuration from the environment, applying the
// documented defaults. DB_PATH has no default and must be set.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:             defaultPort,
		IP:               defaultIP,
		ListenAddr:       defaultListenAddr,
		BufferMaxSize:    defaultBufferMaxSize,
		FetchLimit:       defaultFetchLimit,
		ResidentListener: os.Getenv("resident_listener"),
	}

	if v := os.Getenv("port"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return Config{}, &OpError{Op: "LoadConfig", Err: err}
		}
		cfg.Port = uint16(n)
	}
	if v := os.Getenv("ip_addr"); v != "" {
		cfg.IP = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if cfg.DBPath == "" {
		return Config{}, &OpError{Op: "LoadConfig", Err: errMissingDBPath}
	}

	return cfg, nil
}

// StorePath is the full path to the embedded store file under DBPath.
func (c Config) StorePath() string {
	return filepath.Join(c.DBPath, "nimbus.db")
}

var errMissingDBPath = opErrString("DB_PATH is required")

type opErrString string

func (e opErrString) Error() string { return string(e) }
