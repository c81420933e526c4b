// Package envconfig reads runtime settings from PERCEIVER_* environment
// variables.
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Host returns the address the HTTP server listens on.
// Configurable via PERCEIVER_HOST. Default: http://127.0.0.1:11535.
func Host() *url.URL {
	defaultPort := "11535"

	s := strings.TrimSpace(Var("PERCEIVER_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins returns the CORS origins: PERCEIVER_ORIGINS (comma
// separated) plus localhost.
func AllowedOrigins() (origins []string) {
	if s := Var("PERCEIVER_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// CacheDir returns where pretrained weights are stored.
// Configurable via PERCEIVER_CACHE_DIR. Default: $HOME/.cache/perceiver.
func CacheDir() string {
	if s := Var("PERCEIVER_CACHE_DIR"); s != "" {
		return s
	}

	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "perceiver")
	}
	return filepath.Join(dir, "perceiver")
}

// LogLevel returns the log level.
// Configurable via PERCEIVER_DEBUG: 0/false = INFO (default), 1/true = DEBUG,
// 2 = TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("PERCEIVER_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

var (
	// Offline disables checkpoint downloads.
	Offline = Bool("PERCEIVER_OFFLINE")
	// Threads bounds compute parallelism. 0 means one worker per CPU.
	Threads = Uint("PERCEIVER_THREADS", 0)
	// MaxImageLen is the default per-image token budget.
	MaxImageLen = Int("PERCEIVER_MAX_IMAGE_LEN", 200)
)

// NumThreads resolves Threads, defaulting to runtime.NumCPU.
func NumThreads() int {
	if n := Threads(); n > 0 {
		return int(n) //nolint:gosec // G115: thread counts are small.
	}
	return runtime.NumCPU()
}

// Bool returns a reader for a boolean variable. Unparseable values count
// as true.
func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// Uint returns a reader for an unsigned variable with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Int returns a reader for a signed variable with a default.
func Int(key string, defaultValue int) func() int {
	return func() int {
		if s := Var(key); s != "" {
			if n, err := strconv.Atoi(s); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// EnvVar describes one setting.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every setting with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"PERCEIVER_DEBUG":         {"PERCEIVER_DEBUG", LogLevel(), "Show additional debug information (e.g. PERCEIVER_DEBUG=1)"},
		"PERCEIVER_HOST":          {"PERCEIVER_HOST", Host(), "IP address for the perceiver server (default 127.0.0.1:11535)"},
		"PERCEIVER_ORIGINS":       {"PERCEIVER_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"PERCEIVER_CACHE_DIR":     {"PERCEIVER_CACHE_DIR", CacheDir(), "Directory for downloaded checkpoints"},
		"PERCEIVER_THREADS":       {"PERCEIVER_THREADS", NumThreads(), "Worker goroutines for tensor ops (default: CPU count)"},
		"PERCEIVER_MAX_IMAGE_LEN": {"PERCEIVER_MAX_IMAGE_LEN", MaxImageLen(), "Default tokens kept per image (negative: no limit)"},
		"PERCEIVER_OFFLINE":       {"PERCEIVER_OFFLINE", Offline(), "Never download checkpoints"},
	}
}

// Values returns the settings as strings.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Var returns an environment variable stripped of surrounding quotes and
// spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
