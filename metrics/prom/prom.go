package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/tiercache/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits        *prometheus.CounterVec
	misses      prometheus.Counter
	evicts      *prometheus.CounterVec
	promotions  prometheus.Counter
	demotions   prometheus.Counter
	raceAborts  prometheus.Counter
	compactions prometheus.Counter
	reclaimed   prometheus.Counter
	memBytes    prometheus.Gauge
	diskBytes   prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "hits_total",
				Help:        "Cache hits by serving tier",
				ConstLabels: constLabels,
			},
			[]string{"tier"},
		),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Entries removed from the cache entirely, by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "promotions_total",
			Help:        "Entries copied from disk back into memory",
			ConstLabels: constLabels,
		}),
		demotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "demotions_total",
			Help:        "Entries moved from memory to disk",
			ConstLabels: constLabels,
		}),
		raceAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "race_aborts_total",
			Help:        "Speculative tier moves discarded after losing a commit race",
			ConstLabels: constLabels,
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "compactions_total",
			Help:        "Finished backing-file compaction passes",
			ConstLabels: constLabels,
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "compaction_reclaimed_bytes_total",
			Help:        "Backing-file bytes reclaimed by compaction",
			ConstLabels: constLabels,
		}),
		memBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "memory_bytes",
			Help:        "Bytes resident in the memory tier",
			ConstLabels: constLabels,
		}),
		diskBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "disk_live_bytes",
			Help:        "Live record bytes on the disk tier",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.promotions, a.demotions,
		a.raceAborts, a.compactions, a.reclaimed, a.memBytes, a.diskBytes)
	return a
}

func (a *Adapter) HitMemory() { a.hits.WithLabelValues("memory").Inc() }
func (a *Adapter) HitDisk()   { a.hits.WithLabelValues("disk").Inc() }
func (a *Adapter) Miss()      { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(reason(r)).Inc()
}

func (a *Adapter) Promotion()   { a.promotions.Inc() }
func (a *Adapter) Demotion()    { a.demotions.Inc() }
func (a *Adapter) RaceAborted() { a.raceAborts.Inc() }

// Compaction records one pass and the bytes it gave back.
func (a *Adapter) Compaction(reclaimedBytes int64) {
	a.compactions.Inc()
	a.reclaimed.Add(float64(reclaimedBytes))
}

// Usage updates the tier occupancy gauges.
func (a *Adapter) Usage(memBytes, diskBytes int64) {
	a.memBytes.Set(float64(memBytes))
	a.diskBytes.Set(float64(diskBytes))
}

// reason maps EvictReason to a stable label value.
func reason(r cache.EvictReason) string {
	switch r {
	case cache.EvictCapacity:
		return "disk_capacity"
	case cache.EvictDrop:
		return "drop_on_evict"
	case cache.EvictError:
		return "write_error"
	default:
		return "other"
	}
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
