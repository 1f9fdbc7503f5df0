// Package config loads pgasrt's ambient runtime configuration: the one
// spec-documented environment variable (the per-image RMA segment size
// in pages, §6) plus an optional JSON side-file for everything the spec
// leaves to the implementation (backend choice, compression, discovery,
// checkpointing).
package config

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sys/unix"

	"github.com/caflang/pgasrt/internal/nlog"
)

const (
	envRMAPages  = "PGASRT_RMA_PAGES"
	envConfig    = "PGASRT_CONFIG"
	defaultPages = 256 // transport-specific default, per spec §6
)

// Compression codec names for the tcp backend.
const (
	CodecNone = "none"
	CodecS2   = "s2"
	CodecLZ4  = "lz4"
)

type Config struct {
	// Transport selects the backend: "local" (single image, mmap-backed
	// windows) or "tcp" (distributed, full-mesh).
	Transport string `json:"transport"`

	// RMASegmentBytes is PGASRT_RMA_PAGES * the OS page size, computed by
	// Load and exposed here; neither backend reads it when sizing windows.
	RMASegmentBytes int `json:"-"`

	// Peers is a static list of host:port strings (a JSON array in the
	// config file) consulted by the "static" discovery strategy.
	Peers []string `json:"peers"`

	// Discovery selects the tcp backend's peer bring-up strategy:
	// "static" or "k8s".
	Discovery string `json:"discovery"`

	// K8sNamespace/K8sService name the headless Service whose Endpoints
	// list peer addresses, when Discovery == "k8s".
	K8sNamespace string `json:"k8s_namespace"`
	K8sService   string `json:"k8s_service"`

	// CompressionCodec and CompressionThreshold gate payload compression
	// on the tcp backend's put/get/accumulate wire path.
	CompressionCodec      string `json:"compression_codec"`
	CompressionThreshold  int    `json:"compression_threshold"`
	VerifyChecksum        bool   `json:"verify_checksum"`
	JoinSecret            string `json:"join_secret"`

	// CheckpointBucket, when non-empty, enables best-effort S3
	// snapshotting of static coarray segments.
	CheckpointBucket string `json:"checkpoint_bucket"`
	CheckpointPrefix string `json:"checkpoint_prefix"`

	// AuditLogPath configures the embedded buntdb log of every token
	// register/deregister event; ":memory:" (the default) keeps it off
	// disk, an empty string disables the log entirely, and any other
	// value is a file path to persist it to.
	AuditLogPath string `json:"audit_log_path"`
}

func defaults() *Config {
	return &Config{
		Transport:            "local",
		Discovery:            "static",
		CompressionCodec:     CodecS2,
		CompressionThreshold: 64 << 10,
		AuditLogPath:         ":memory:",
	}
}

// Load reads PGASRT_RMA_PAGES and, if set, PGASRT_CONFIG, returning a
// fully-defaulted Config. Never returns an error for a missing config
// file; malformed JSON in an explicitly-named file is reported.
func Load() (*Config, error) {
	cfg := defaults()

	pageSize := unix.Getpagesize()
	pages := defaultPages
	if v := os.Getenv(envRMAPages); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			pages = n
		} else {
			nlog.Warningf("config: ignoring invalid %s=%q: %v", envRMAPages, v, err)
		}
	}
	cfg.RMASegmentBytes = pages * pageSize

	if path := os.Getenv(envConfig); path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return cfg, nil
		}
		if err != nil {
			return nil, err
		}
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, errInvalid
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errInvalid
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, errInvalid
	}
	return n, nil
}

var errInvalid = simpleErr("not a positive integer")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
