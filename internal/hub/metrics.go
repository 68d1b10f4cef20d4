package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	broadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricefeed_hub_broadcasts_total",
		Help: "Messages dequeued from the inbound queue and fanned out.",
	})

	droppedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricefeed_hub_dropped_frames_total",
		Help: "Frames dropped on a saturated queue, by queue kind.",
	}, []string{"queue"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricefeed_hub_active_sessions",
		Help: "Sessions currently in the registry.",
	})
)
