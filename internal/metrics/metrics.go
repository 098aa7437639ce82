package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/midibridged/midibridged/internal/router"
)

// PeerGraphProvider exposes the router's current peer graph.
type PeerGraphProvider interface {
	StatusReport() router.GraphStatus
}

// CKLatencyProvider exposes the rolling clock-sync latency window.
type CKLatencyProvider interface {
	AverageAndStdDev(now time.Time) (mean, stddev float64)
}

// JournalRecoveryCounter exposes how many note events have been
// recovered from a peer's recovery journal since startup, across all
// peers. *stats.Counter satisfies this directly.
type JournalRecoveryCounter interface {
	Load() uint64
}

// Collector is a prometheus.Collector that gathers midibridged metrics
// at scrape time: peer graph shape, per-peer traffic, clock-sync
// latency, and journal recovery activity.
type Collector struct {
	graph     PeerGraphProvider
	ckLatency CKLatencyProvider
	journal   JournalRecoveryCounter
	startTime time.Time

	peersDesc            *prometheus.Desc
	peerEdgesDesc        *prometheus.Desc
	peerSentDesc         *prometheus.Desc
	peerRecvDesc         *prometheus.Desc
	ckLatencyDesc        *prometheus.Desc
	ckLatencyStdDevDesc  *prometheus.Desc
	journalRecoveredDesc *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil
// if unavailable, in which case its metrics are simply omitted from a
// given scrape.
func NewCollector(graph PeerGraphProvider, ckLatency CKLatencyProvider, journal JournalRecoveryCounter, startTime time.Time) *Collector {
	return &Collector{
		graph:     graph,
		ckLatency: ckLatency,
		journal:   journal,
		startTime: startTime,

		peersDesc: prometheus.NewDesc(
			"midibridged_peers",
			"Number of peers currently registered in the router graph",
			nil, nil,
		),
		peerEdgesDesc: prometheus.NewDesc(
			"midibridged_peer_edges",
			"Number of outgoing edges for a given peer",
			[]string{"peer_id", "name", "kind"}, nil,
		),
		peerSentDesc: prometheus.NewDesc(
			"midibridged_peer_messages_sent_total",
			"Total MIDI messages sent by a peer",
			[]string{"peer_id", "name", "kind"}, nil,
		),
		peerRecvDesc: prometheus.NewDesc(
			"midibridged_peer_messages_received_total",
			"Total MIDI messages received by a peer",
			[]string{"peer_id", "name", "kind"}, nil,
		),
		ckLatencyDesc: prometheus.NewDesc(
			"midibridged_ck_latency_seconds",
			"Mean clock-sync round-trip latency over the trailing window",
			nil, nil,
		),
		ckLatencyStdDevDesc: prometheus.NewDesc(
			"midibridged_ck_latency_stddev_seconds",
			"Standard deviation of clock-sync round-trip latency over the trailing window",
			nil, nil,
		),
		journalRecoveredDesc: prometheus.NewDesc(
			"midibridged_journal_recovered_notes_total",
			"Total note events recovered from peer recovery journals since startup",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"midibridged_uptime_seconds",
			"Seconds since the bridging daemon started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.peersDesc
	ch <- c.peerEdgesDesc
	ch <- c.peerSentDesc
	ch <- c.peerRecvDesc
	ch <- c.ckLatencyDesc
	ch <- c.ckLatencyStdDevDesc
	ch <- c.journalRecoveredDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.graph != nil {
		report := c.graph.StatusReport()
		ch <- prometheus.MustNewConstMetric(c.peersDesc, prometheus.GaugeValue, float64(len(report.Peers)))
		for id, st := range report.Peers {
			peerID := fmt.Sprintf("%d", id)
			ch <- prometheus.MustNewConstMetric(
				c.peerEdgesDesc, prometheus.GaugeValue,
				float64(len(st.Edges)), peerID, st.Name, st.Kind,
			)
			ch <- prometheus.MustNewConstMetric(
				c.peerSentDesc, prometheus.CounterValue,
				float64(st.SentCount), peerID, st.Name, st.Kind,
			)
			ch <- prometheus.MustNewConstMetric(
				c.peerRecvDesc, prometheus.CounterValue,
				float64(st.RecvCount), peerID, st.Name, st.Kind,
			)
		}
	}

	if c.ckLatency != nil {
		mean, stddev := c.ckLatency.AverageAndStdDev(time.Now())
		ch <- prometheus.MustNewConstMetric(c.ckLatencyDesc, prometheus.GaugeValue, mean)
		ch <- prometheus.MustNewConstMetric(c.ckLatencyStdDevDesc, prometheus.GaugeValue, stddev)
	}

	if c.journal != nil {
		ch <- prometheus.MustNewConstMetric(
			c.journalRecoveredDesc, prometheus.CounterValue,
			float64(c.journal.Load()),
		)
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
