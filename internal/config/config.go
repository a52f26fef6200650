// Package config holds the engine's runtime tuning knobs: a struct of
// overridable values with Get* accessors that fall back to sane defaults,
// the same pattern the rest of this codebase uses for any user-tunable
// setting.
package config

import "time"

const (
	KB = 1024
	MB = 1024 * KB

	// PartialSuffix is appended to an in-progress output file.
	PartialSuffix = ".part"
)

// Size and timing defaults.
const (
	DefaultMinSegmentSize     = 2 * MB
	DefaultAlignSize          = 4 * KB
	DefaultWorkerBuffer       = 512 * KB
	DefaultBurstSize          = 64 * KB
	DefaultMaxConnsPerTask    = 8
	DefaultMaxConnsPerHost    = 16
	DefaultMaxConcurrentTasks = 4
	DefaultMaxTaskRetries     = 3
	RetryBaseDelay            = 200 * time.Millisecond
	RetryMaxDelay             = 30 * time.Second

	DefaultSlowWorkerThreshold   = 0.50
	DefaultSlowWorkerGracePeriod = 5 * time.Second
	DefaultStallTimeout          = 5 * time.Second
	DefaultSpeedEMAAlpha         = 0.3
	HealthCheckInterval          = 1 * time.Second

	DefaultDialTimeout         = 10 * time.Second
	DefaultProbeTimeout        = 30 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second

	DefaultUserAgent = "flowdl/1.0 (+https://github.com/flowdl/flowdl)"

	ProgressChannelBuffer = 100

	DefaultRetryDelay             = 1 * time.Second
	DefaultProgressUpdateInterval = 200 * time.Millisecond
	DefaultSegmentSaveInterval    = 5 * time.Second
	DefaultDirectory              = "downloads"
	DefaultNetworkPoolSize        = 8
	DefaultIOPoolSize             = 4
	DefaultTorrentMetadataTimeout = 120 * time.Second

	// ConditionPollInterval is how often the coordinator re-checks a
	// scheduled task's DownloadCondition while it is not yet satisfied.
	ConditionPollInterval = 5 * time.Second
)

// EngineConfig holds every tunable knob for an Engine instance. A nil
// receiver or zero-value field on any accessor falls back to the package
// default, so callers can construct a partially-filled EngineConfig.
type EngineConfig struct {
	MaxConcurrentTasks int
	MaxConnsPerTask    int
	MaxConnsPerHost    int
	MinSegmentSize     int64
	WorkerBufferSize   int
	MaxTaskRetries     int

	SlowWorkerThreshold   float64
	SlowWorkerGracePeriod time.Duration
	StallTimeout          time.Duration
	SpeedEMAAlpha         float64

	UserAgent     string
	ProxyURL      string
	SkipTLSVerify bool

	StorePath string // sqlite DB path; empty = in-memory-only store
	DebugLog  string // debug log path; empty = package default

	RetryDelay             time.Duration // base for exponential backoff
	ProgressUpdateInterval time.Duration
	SegmentSaveInterval    time.Duration
	DefaultDirectory       string // destination dir when a request has none
	BurstSize              int64  // token-bucket burst cap, bytes; not read by internal/ratelimit, whose burst is a fixed 64 KiB (or the rate, if lower)
	NetworkPoolSize        int    // size hint for caller-supplied network dispatcher
	IOPoolSize             int    // size hint for caller-supplied io dispatcher
	TorrentMetadataTimeout time.Duration
}

func (c *EngineConfig) GetMaxConcurrentTasks() int {
	if c == nil || c.MaxConcurrentTasks <= 0 {
		return DefaultMaxConcurrentTasks
	}
	return c.MaxConcurrentTasks
}

func (c *EngineConfig) GetMaxConnsPerTask() int {
	if c == nil || c.MaxConnsPerTask <= 0 {
		return DefaultMaxConnsPerTask
	}
	return c.MaxConnsPerTask
}

func (c *EngineConfig) GetMaxConnsPerHost() int {
	if c == nil || c.MaxConnsPerHost <= 0 {
		return DefaultMaxConnsPerHost
	}
	return c.MaxConnsPerHost
}

func (c *EngineConfig) GetMinSegmentSize() int64 {
	if c == nil || c.MinSegmentSize <= 0 {
		return DefaultMinSegmentSize
	}
	return c.MinSegmentSize
}

func (c *EngineConfig) GetWorkerBufferSize() int {
	if c == nil || c.WorkerBufferSize <= 0 {
		return DefaultWorkerBuffer
	}
	return c.WorkerBufferSize
}

func (c *EngineConfig) GetMaxTaskRetries() int {
	if c == nil || c.MaxTaskRetries <= 0 {
		return DefaultMaxTaskRetries
	}
	return c.MaxTaskRetries
}

func (c *EngineConfig) GetSlowWorkerThreshold() float64 {
	if c == nil || c.SlowWorkerThreshold <= 0 {
		return DefaultSlowWorkerThreshold
	}
	return c.SlowWorkerThreshold
}

func (c *EngineConfig) GetSlowWorkerGracePeriod() time.Duration {
	if c == nil || c.SlowWorkerGracePeriod <= 0 {
		return DefaultSlowWorkerGracePeriod
	}
	return c.SlowWorkerGracePeriod
}

func (c *EngineConfig) GetStallTimeout() time.Duration {
	if c == nil || c.StallTimeout <= 0 {
		return DefaultStallTimeout
	}
	return c.StallTimeout
}

func (c *EngineConfig) GetSpeedEMAAlpha() float64 {
	if c == nil || c.SpeedEMAAlpha <= 0 {
		return DefaultSpeedEMAAlpha
	}
	return c.SpeedEMAAlpha
}

func (c *EngineConfig) GetUserAgent() string {
	if c == nil || c.UserAgent == "" {
		return DefaultUserAgent
	}
	return c.UserAgent
}

func (c *EngineConfig) GetRetryDelay() time.Duration {
	if c == nil || c.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return c.RetryDelay
}

func (c *EngineConfig) GetProgressUpdateInterval() time.Duration {
	if c == nil || c.ProgressUpdateInterval <= 0 {
		return DefaultProgressUpdateInterval
	}
	return c.ProgressUpdateInterval
}

func (c *EngineConfig) GetSegmentSaveInterval() time.Duration {
	if c == nil || c.SegmentSaveInterval <= 0 {
		return DefaultSegmentSaveInterval
	}
	return c.SegmentSaveInterval
}

func (c *EngineConfig) GetDefaultDirectory() string {
	if c == nil || c.DefaultDirectory == "" {
		return DefaultDirectory
	}
	return c.DefaultDirectory
}

func (c *EngineConfig) GetBurstSize() int64 {
	if c == nil || c.BurstSize <= 0 {
		return DefaultBurstSize
	}
	return c.BurstSize
}

func (c *EngineConfig) GetTorrentMetadataTimeout() time.Duration {
	if c == nil || c.TorrentMetadataTimeout <= 0 {
		return DefaultTorrentMetadataTimeout
	}
	return c.TorrentMetadataTimeout
}

// GetStorePath returns the configured sqlite database path, or "" (the
// in-memory-only default) when unset.
func (c *EngineConfig) GetStorePath() string {
	if c == nil {
		return ""
	}
	return c.StorePath
}

// GetDebugLog returns the configured debug log path, or "" (the package
// default path) when unset.
func (c *EngineConfig) GetDebugLog() string {
	if c == nil {
		return ""
	}
	return c.DebugLog
}
