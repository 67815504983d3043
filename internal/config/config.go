package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Catalog
	Manifest     string // URL or file path of the manifest
	ManifestRoot string // path prefix every manifest entry lives under
	MediaBase    string // URL or directory clip refs are resolved against

	// State
	StateDB       string // SQLite file; empty keeps state in memory
	StoragePrefix string // key namespace for persisted order and active group

	// Audio
	IdleSuspend time.Duration // suspend the mixer after this long with no voices; 0 disables
	Preload     bool          // warm the buffer cache when a group becomes active
	LocalOutput bool          // also play on the host sound device

	// Streams
	MP3Bitrate  string   // FFmpeg bitrate for /stream
	OpusBitrate int      // bits/s for WebRTC
	ICEServers  []string // STUN/TURN URLs for WebRTC
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("BGMHUB_PORT", 8080),

		Manifest:     envStr("BGMHUB_MANIFEST", "media/manifest.txt"),
		ManifestRoot: envStr("BGMHUB_MEDIA_ROOT", "audio/"),
		MediaBase:    envStr("BGMHUB_MEDIA_BASE", "media"),

		StateDB:       envStr("BGMHUB_STATE_DB", "data/state.db"),
		StoragePrefix: envStr("BGMHUB_STORAGE_PREFIX", "bgmhub"),

		IdleSuspend: envDuration("BGMHUB_IDLE_SUSPEND", 30*time.Second),
		Preload:     envBool("BGMHUB_PRELOAD", true),
		LocalOutput: envBool("BGMHUB_LOCAL_OUTPUT", false),

		MP3Bitrate:  envStr("BGMHUB_MP3_BITRATE", "192k"),
		OpusBitrate: envInt("BGMHUB_OPUS_BITRATE", 96000),
		ICEServers:  envList("BGMHUB_ICE_SERVERS"),
	}
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("45s") or plain seconds ("45").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
