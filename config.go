package wbcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// InitialReadFailedFinalAction selects what happens when an entry's very
// first storage read exhausts its retries (spec §4.2, §6).
type InitialReadFailedFinalAction int

const (
	InitialReadFailedRemoveFromCache InitialReadFailedFinalAction = iota
	InitialReadFailedKeepAndThrow
)

// ResyncTooLateAction selects what a successful resync read does when the
// merge window has already closed (spec §4.2).
type ResyncTooLateAction int

const (
	ResyncTooLateSetDirectly ResyncTooLateAction = iota
	ResyncTooLateMergeData
	ResyncTooLateClearReadPendingStatus
	ResyncTooLateDoNothing
	ResyncTooLateRemoveFromCache
)

// ResyncFailedFinalAction selects what happens when a resync exhausts its
// retries (spec §4.2).
type ResyncFailedFinalAction int

const (
	ResyncFailedRemoveFromCache ResyncFailedFinalAction = iota
	ResyncFailedStopCollectingUpdates
	ResyncFailedKeepCollectingUpdates
)

// Config holds every tunable named in spec §6. Zero-value Config is not
// directly usable: call DefaultConfig() and apply Options on top, the way
// the teacher's functional-options constructor expects New(opts...) to be
// seeded with sane internal defaults first.
type Config struct {
	// Sizes.
	MainQueueMaxTargetSize    int
	MaxCacheElementsHardLimit int
	MaxUpdatesToCollect       int

	// Timings, in virtual milliseconds unless noted.
	MainQueueCacheTime                int64
	MainQueueCacheTimeMin              int64
	ReturnQueueCacheTimeMin            int64
	UntouchedItemCacheExpirationDelay int64
	MaxSleepTime                       int64
	ReadQueueBatchingDelay             int64
	WriteQueueBatchingDelay            int64

	// Retries.
	ReadFailureMaxRetryCount           int
	WriteFailureMaxRetryCount          int
	FullCacheCycleFailureMaxRetryCount int
	ReturnQueueMaxRequeueCount         int
	MaxCacheRemovedRetries             int

	// Policy flags/enums.
	CanMergeWrites                               bool
	InitialReadFailedFinalAction                 InitialReadFailedFinalAction
	ResyncTooLateAction                          ResyncTooLateAction
	ResyncFailedFinalAction                      ResyncFailedFinalAction
	AllowDataWritingAfterResyncFailedFinal        bool
	AllowDataReadingAfterResyncFailedFinal        bool
	AllowUpdatesCollectionForMultipleFullCycles   bool
	AcceptOutOfOrderReads                         bool

	// Thread pools. MinSize/MaxSize == -1,-1 means "execute inline",
	// matching spec §6.
	ReadThreadPoolMinSize  int
	ReadThreadPoolMaxSize  int
	WriteThreadPoolMinSize int
	WriteThreadPoolMaxSize int
	ThreadPoolMaxIdle      time.Duration

	// Monitoring thresholds: two ascending 5-element buckets, one for
	// full-cycle counts and one for time-since-last-access (virtual ms).
	FullCycleCountThresholds    [5]int
	TimeSinceAccessThresholdsMs [5]int64

	// TimeFactor scales the RealClock built by New when no Clock option
	// is supplied.
	TimeFactor float64

	// Ambient stack (logging/metrics); see SPEC_FULL.md AMBIENT STACK.
	Logger            zerolog.Logger
	MetricsRegisterer prometheus.Registerer
}

// DefaultConfig returns a Config with every default named in spec §6
// filled in. MainQueueMaxTargetSize defaults to 1000 and
// MaxCacheElementsHardLimit to 2000; setting one through its option does
// not change the other.
func DefaultConfig() Config {
	return Config{
		MainQueueMaxTargetSize:    1000,
		MaxCacheElementsHardLimit: 2000,
		MaxUpdatesToCollect:       1000,

		MainQueueCacheTime:                10_000,
		MainQueueCacheTimeMin:              1_000, // 1/10th of MainQueueCacheTime
		ReturnQueueCacheTimeMin:            0,
		UntouchedItemCacheExpirationDelay: 60_000,
		MaxSleepTime:                       500,
		ReadQueueBatchingDelay:             0,
		WriteQueueBatchingDelay:            0,

		ReadFailureMaxRetryCount:           3,
		WriteFailureMaxRetryCount:          3,
		FullCacheCycleFailureMaxRetryCount: 3,
		ReturnQueueMaxRequeueCount:         3,
		MaxCacheRemovedRetries:             3,

		CanMergeWrites:                 false,
		InitialReadFailedFinalAction:   InitialReadFailedRemoveFromCache,
		ResyncTooLateAction:            ResyncTooLateSetDirectly,
		ResyncFailedFinalAction:        ResyncFailedRemoveFromCache,

		ReadThreadPoolMinSize:  -1,
		ReadThreadPoolMaxSize:  -1,
		WriteThreadPoolMinSize: -1,
		WriteThreadPoolMaxSize: -1,
		ThreadPoolMaxIdle:      time.Minute,

		FullCycleCountThresholds:    [5]int{1, 2, 5, 10, 25},
		TimeSinceAccessThresholdsMs: [5]int64{1_000, 10_000, 60_000, 300_000, 3_600_000},

		TimeFactor: 1.0,

		Logger: zerolog.Nop(),
	}
}

// Option mutates a Config in place, the generalized form of the teacher's
// Option func(*Cache).
type Option func(*Config)

func WithMainQueueMaxTargetSize(n int) Option {
	return func(c *Config) { c.MainQueueMaxTargetSize = n }
}

func WithMaxCacheElementsHardLimit(n int) Option {
	return func(c *Config) { c.MaxCacheElementsHardLimit = n }
}

func WithMaxUpdatesToCollect(n int) Option {
	return func(c *Config) { c.MaxUpdatesToCollect = n }
}

func WithMainQueueCacheTime(ms int64) Option {
	return func(c *Config) { c.MainQueueCacheTime = ms }
}

func WithMainQueueCacheTimeMin(ms int64) Option {
	return func(c *Config) { c.MainQueueCacheTimeMin = ms }
}

func WithReturnQueueCacheTimeMin(ms int64) Option {
	return func(c *Config) { c.ReturnQueueCacheTimeMin = ms }
}

func WithUntouchedItemCacheExpirationDelay(ms int64) Option {
	return func(c *Config) { c.UntouchedItemCacheExpirationDelay = ms }
}

func WithMaxSleepTime(ms int64) Option {
	return func(c *Config) { c.MaxSleepTime = ms }
}

func WithReadQueueBatchingDelay(ms int64) Option {
	return func(c *Config) { c.ReadQueueBatchingDelay = ms }
}

func WithWriteQueueBatchingDelay(ms int64) Option {
	return func(c *Config) { c.WriteQueueBatchingDelay = ms }
}

func WithReadFailureMaxRetryCount(n int) Option {
	return func(c *Config) { c.ReadFailureMaxRetryCount = n }
}

func WithWriteFailureMaxRetryCount(n int) Option {
	return func(c *Config) { c.WriteFailureMaxRetryCount = n }
}

func WithFullCacheCycleFailureMaxRetryCount(n int) Option {
	return func(c *Config) { c.FullCacheCycleFailureMaxRetryCount = n }
}

func WithReturnQueueMaxRequeueCount(n int) Option {
	return func(c *Config) { c.ReturnQueueMaxRequeueCount = n }
}

func WithMaxCacheRemovedRetries(n int) Option {
	return func(c *Config) { c.MaxCacheRemovedRetries = n }
}

func WithCanMergeWrites(v bool) Option {
	return func(c *Config) { c.CanMergeWrites = v }
}

func WithInitialReadFailedFinalAction(a InitialReadFailedFinalAction) Option {
	return func(c *Config) { c.InitialReadFailedFinalAction = a }
}

func WithResyncTooLateAction(a ResyncTooLateAction) Option {
	return func(c *Config) { c.ResyncTooLateAction = a }
}

func WithResyncFailedFinalAction(a ResyncFailedFinalAction) Option {
	return func(c *Config) { c.ResyncFailedFinalAction = a }
}

func WithAllowDataWritingAfterResyncFailedFinal(v bool) Option {
	return func(c *Config) { c.AllowDataWritingAfterResyncFailedFinal = v }
}

func WithAllowDataReadingAfterResyncFailedFinal(v bool) Option {
	return func(c *Config) { c.AllowDataReadingAfterResyncFailedFinal = v }
}

func WithAllowUpdatesCollectionForMultipleFullCycles(v bool) Option {
	return func(c *Config) { c.AllowUpdatesCollectionForMultipleFullCycles = v }
}

func WithAcceptOutOfOrderReads(v bool) Option {
	return func(c *Config) { c.AcceptOutOfOrderReads = v }
}

func WithReadThreadPool(minSize, maxSize int) Option {
	return func(c *Config) { c.ReadThreadPoolMinSize, c.ReadThreadPoolMaxSize = minSize, maxSize }
}

func WithWriteThreadPool(minSize, maxSize int) Option {
	return func(c *Config) { c.WriteThreadPoolMinSize, c.WriteThreadPoolMaxSize = minSize, maxSize }
}

func WithThreadPoolMaxIdle(d time.Duration) Option {
	return func(c *Config) { c.ThreadPoolMaxIdle = d }
}

func WithTimeFactor(f float64) Option {
	return func(c *Config) { c.TimeFactor = f }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(c *Config) { c.MetricsRegisterer = r }
}
