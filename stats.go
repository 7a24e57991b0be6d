package wbcache

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is an immutable snapshot of the runtime counters of spec §5
// ("Stats counters: atomic integers/longs; not required to be consistent
// across counters") and the monitoring buckets of spec §4.5. It is the
// generalized form of the teacher's Stats{Hits,Misses,Evictions} struct.
type Stats struct {
	Hits, Misses uint64

	Adds, Removes, Expires uint64

	ReadsOK, ReadFailures   uint64
	WritesOK, WriteFailures uint64

	CacheFullRejections  uint64
	TooManyUpdatesErrors uint64
	ResyncTooLate        uint64
	ReturnQueueRecycles  uint64

	// FullCycleBuckets[i] counts entries whose full-cycles-completed at
	// removal/expiry time was <= Config.FullCycleCountThresholds[i]
	// (bucket 5 is the overflow "more than the last threshold" bucket).
	FullCycleBuckets [6]uint64
	// TimeSinceAccessBuckets mirrors FullCycleBuckets for
	// Config.TimeSinceAccessThresholdsMs.
	TimeSinceAccessBuckets [6]uint64
}

// statsCollector is the cache-instance-scoped counters struct (spec §9:
// "cache-instance-scoped logger/stats struct passed explicitly", replacing
// the source's global mutable stats). Plain atomics are the system of
// record; a prometheus.Registerer, when supplied via WithMetricsRegisterer,
// gets a mirrored counter/gauge vec for external scraping — grounded on
// cuemby-warren's use of prometheus/client_golang for this kind of
// operational counter surface.
type statsCollector struct {
	hits, misses                   atomic.Uint64
	adds, removes, expires         atomic.Uint64
	readsOK, readFailures          atomic.Uint64
	writesOK, writeFailures        atomic.Uint64
	cacheFullRejections            atomic.Uint64
	tooManyUpdatesErrors           atomic.Uint64
	resyncTooLate                  atomic.Uint64
	returnQueueRecycles            atomic.Uint64
	fullCycleBuckets                [6]atomic.Uint64
	timeSinceAccessBuckets          [6]atomic.Uint64

	prom *promMetrics
}

type promMetrics struct {
	ops        *prometheus.CounterVec
	bucketSize *prometheus.GaugeVec
}

func newStatsCollector(reg prometheus.Registerer) *statsCollector {
	sc := &statsCollector{}
	if reg == nil {
		return sc
	}
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wbcache",
		Name:      "ops_total",
		Help:      "Write-behind cache operation counters by kind.",
	}, []string{"kind"})
	bucketSize := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wbcache",
		Name:      "monitoring_bucket_total",
		Help:      "Entries bucketed at terminal outcome by full-cycle-count/time-since-access threshold.",
	}, []string{"dimension", "bucket"})
	if err := reg.Register(ops); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			ops = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := reg.Register(bucketSize); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			bucketSize = are.ExistingCollector.(*prometheus.GaugeVec)
		}
	}
	sc.prom = &promMetrics{ops: ops, bucketSize: bucketSize}
	return sc
}

func (s *statsCollector) inc(kind string, counter *atomic.Uint64) {
	counter.Add(1)
	if s.prom != nil {
		s.prom.ops.WithLabelValues(kind).Inc()
	}
}

func (s *statsCollector) hit()                 { s.inc("hit", &s.hits) }
func (s *statsCollector) miss()                { s.inc("miss", &s.misses) }
func (s *statsCollector) add()                 { s.inc("add", &s.adds) }
func (s *statsCollector) remove()              { s.inc("remove", &s.removes) }
func (s *statsCollector) expire()              { s.inc("expire", &s.expires) }
func (s *statsCollector) readOK()              { s.inc("read_ok", &s.readsOK) }
func (s *statsCollector) readFailure()         { s.inc("read_failure", &s.readFailures) }
func (s *statsCollector) writeOK()             { s.inc("write_ok", &s.writesOK) }
func (s *statsCollector) writeFailure()        { s.inc("write_failure", &s.writeFailures) }
func (s *statsCollector) cacheFullRejection()  { s.inc("cache_full", &s.cacheFullRejections) }
func (s *statsCollector) tooManyUpdates()      { s.inc("too_many_updates", &s.tooManyUpdatesErrors) }
func (s *statsCollector) resyncTooLateCount()  { s.inc("resync_too_late", &s.resyncTooLate) }
func (s *statsCollector) returnQueueRecycle()  { s.inc("return_queue_recycle", &s.returnQueueRecycles) }

// bucketOf returns the index of the first threshold >= v, or len(thresholds)
// (the overflow bucket) if none qualifies.
func bucketOf[T int | int64](v T, thresholds [5]T) int {
	for i, t := range thresholds {
		if v <= t {
			return i
		}
	}
	return 5
}

func (s *statsCollector) bucketFullCycles(n int, thresholds [5]int) {
	i := bucketOf(n, thresholds)
	s.fullCycleBuckets[i].Add(1)
	if s.prom != nil {
		s.prom.bucketSize.WithLabelValues("full_cycles", bucketLabel(i)).Inc()
	}
}

func (s *statsCollector) bucketTimeSinceAccess(ms int64, thresholds [5]int64) {
	i := bucketOf(ms, thresholds)
	s.timeSinceAccessBuckets[i].Add(1)
	if s.prom != nil {
		s.prom.bucketSize.WithLabelValues("time_since_access", bucketLabel(i)).Inc()
	}
}

func bucketLabel(i int) string {
	labels := [6]string{"0", "1", "2", "3", "4", "overflow"}
	return labels[i]
}

func (s *statsCollector) snapshot() Stats {
	st := Stats{
		Hits: s.hits.Load(), Misses: s.misses.Load(),
		Adds: s.adds.Load(), Removes: s.removes.Load(), Expires: s.expires.Load(),
		ReadsOK: s.readsOK.Load(), ReadFailures: s.readFailures.Load(),
		WritesOK: s.writesOK.Load(), WriteFailures: s.writeFailures.Load(),
		CacheFullRejections:  s.cacheFullRejections.Load(),
		TooManyUpdatesErrors: s.tooManyUpdatesErrors.Load(),
		ResyncTooLate:        s.resyncTooLate.Load(),
		ReturnQueueRecycles:  s.returnQueueRecycles.Load(),
	}
	for i := range s.fullCycleBuckets {
		st.FullCycleBuckets[i] = s.fullCycleBuckets[i].Load()
		st.TimeSinceAccessBuckets[i] = s.timeSinceAccessBuckets[i].Load()
	}
	return st
}

// statusSnapshotter memoizes Stats() snapshots so GetStatus(maxAgeMs)
// (spec §6) doesn't walk every counter on every call within the same
// virtual-ms window. Generalizes the teacher's plain Stats() passthrough.
type statusSnapshotter struct {
	mu        sync.Mutex
	collector *statsCollector
	clock     Clock
	lastAt    int64
	lastValue Stats
	have      bool
}

func newStatusSnapshotter(collector *statsCollector, clock Clock) *statusSnapshotter {
	return &statusSnapshotter{collector: collector, clock: clock}
}

func (s *statusSnapshotter) get(maxAgeMs int64) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if s.have && s.clock.Gap(s.lastAt, now) <= maxAgeMs {
		return s.lastValue
	}
	s.lastValue = s.collector.snapshot()
	s.lastAt = now
	s.have = true
	return s.lastValue
}
