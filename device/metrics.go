package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// metrics holds the Prometheus instrumentation for one Manager. It is
// optional: a Manager constructed without WithMetrics runs with a nil
// *metrics, and every call site either guards on that before touching it
// or goes through a method that checks for a nil receiver, mirroring how the ambient logger defaults to a no-op rather than
// requiring every caller to special-case "metrics disabled".
type metrics struct {
	dmaStarts     *prometheus.CounterVec
	ringEvictions *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	commands      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		dmaStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spresense_camera",
			Name:      "dma_starts_total",
			Help:      "Number of DMA transfers started or chained per stream.",
		}, []string{"stream"}),
		ringEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spresense_camera",
			Name:      "ring_evictions_total",
			Help:      "Number of done buffers silently dropped by ring-mode overflow.",
		}, []string{"stream"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spresense_camera",
			Name:      "state_transitions_total",
			Help:      "Number of Arbiter-driven video state transitions, by cause.",
		}, []string{"cause"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spresense_camera",
			Name:      "queue_depth",
			Help:      "Current number of slots in each FrameBufferQueue sub-list.",
		}, []string{"stream", "sublist"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spresense_camera",
			Name:      "commands_total",
			Help:      "Number of times each ioctl-style command was invoked.",
		}, []string{"command"}),
	}
}

func (m *metrics) observeCommand(cmd v4l2.Command) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(cmd.String()).Inc()
}

func (m *metrics) observeQueue(stream string, free, queued, dma, done int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(stream, "free").Set(float64(free))
	m.queueDepth.WithLabelValues(stream, "queued").Set(float64(queued))
	m.queueDepth.WithLabelValues(stream, "dma").Set(float64(dma))
	m.queueDepth.WithLabelValues(stream, "done").Set(float64(done))
}
