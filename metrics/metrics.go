// Package metrics defines the Prometheus instrumentation surfaced by the
// router, cTCP connections and the BBR controller.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder bundles the collectors a Router, ctcp.Conn or bbr.Controller
// reports through (the ARP gauges are set by cmd/vnet-router). A nil *Recorder is valid everywhere it's accepted: callers that
// don't care about metrics simply pass nil and every increment is skipped.
type Recorder struct {
	DroppedFrames *prometheus.CounterVec
	ICMPEmitted   *prometheus.CounterVec
	ARPCacheSize  prometheus.Gauge
	ARPPending    prometheus.Gauge

	CTCPSegmentsSent  prometheus.Counter
	CTCPSegmentsRecv  prometheus.Counter
	CTCPRetransmits   prometheus.Counter
	CTCPBytesInFlight prometheus.Gauge

	BBRMode       *prometheus.GaugeVec
	BBRCwnd       prometheus.Gauge
	BBRPacingGain prometheus.Gauge
}

// NewRecorder registers its collectors against reg and returns the bundle.
// Pass prometheus.NewRegistry() in tests to avoid collisions with other
// Recorders registered in the same process.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vnet_router_dropped_frames_total",
			Help: "Frames dropped by the classifier or forwarding engine, by reason.",
		}, []string{"reason"}),
		ICMPEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vnet_router_icmp_emitted_total",
			Help: "ICMP messages emitted by the router, by type.",
		}, []string{"type"}),
		ARPCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnet_arp_cache_entries",
			Help: "Current number of resolved ARP cache entries.",
		}),
		ARPPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnet_arp_pending_requests",
			Help: "Current number of outstanding ARP resolution requests.",
		}),
		CTCPSegmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnet_ctcp_segments_sent_total",
			Help: "cTCP segments transmitted, including retransmissions.",
		}),
		CTCPSegmentsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnet_ctcp_segments_received_total",
			Help: "cTCP segments received, including duplicates.",
		}),
		CTCPRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnet_ctcp_retransmits_total",
			Help: "cTCP segments retransmitted after timeout.",
		}),
		CTCPBytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnet_ctcp_bytes_in_flight",
			Help: "Bytes sent but not yet acknowledged.",
		}),
		BBRMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vnet_ctcp_bbr_mode",
			Help: "1 for the BBR phase (Startup, Drain, ProbeBW, ProbeRTT) currently active, 0 otherwise.",
		}, []string{"mode"}),
		BBRCwnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnet_ctcp_bbr_cwnd_bytes",
			Help: "Current BBR congestion window in bytes.",
		}),
		BBRPacingGain: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vnet_ctcp_bbr_pacing_gain",
			Help: "Current BBR pacing gain multiplier.",
		}),
	}
	reg.MustRegister(r.DroppedFrames, r.ICMPEmitted, r.ARPCacheSize, r.ARPPending,
		r.CTCPSegmentsSent, r.CTCPSegmentsRecv, r.CTCPRetransmits, r.CTCPBytesInFlight,
		r.BBRMode, r.BBRCwnd, r.BBRPacingGain)
	return r
}
