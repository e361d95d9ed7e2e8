package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snarg/ai-relay/internal/provider"
)

// SessionStats gives the collector access to live session state.
type SessionStats interface {
	ActiveCount() int
	InFlightCount() int
}

// ProviderStatus lists provider readiness at scrape time.
type ProviderStatus interface {
	Snapshot() []provider.Status
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool      *pgxpool.Pool
	sessions  SessionStats
	providers ProviderStatus

	activeSessions  *prometheus.Desc
	inFlightCalls   *prometheus.Desc
	providerReady   *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any argument may be nil; the matching gauges then report 0 or are omitted.
func NewCollector(pool *pgxpool.Pool, sessions SessionStats, providers ProviderStatus) *Collector {
	return &Collector{
		pool:      pool,
		sessions:  sessions,
		providers: providers,
		activeSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_active"),
			"Current number of live transcription sessions.",
			nil, nil,
		),
		inFlightCalls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "session_calls_in_flight"),
			"Session transcription calls currently in flight.",
			nil, nil,
		),
		providerReady: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "provider_ready"),
			"1 when the provider's credentials are configured.",
			[]string{"provider"}, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessions
	ch <- c.inFlightCalls
	ch <- c.providerReady
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var active, inFlight int
	if c.sessions != nil {
		active = c.sessions.ActiveCount()
		inFlight = c.sessions.InFlightCount()
	}
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(active))
	ch <- prometheus.MustNewConstMetric(c.inFlightCalls, prometheus.GaugeValue, float64(inFlight))

	if c.providers != nil {
		for _, s := range c.providers.Snapshot() {
			v := 0.0
			if s.Ready {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.providerReady, prometheus.GaugeValue, v, s.ID)
		}
	}

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
