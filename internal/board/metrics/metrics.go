// Package metrics declares the Prometheus collectors of the board server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for board metrics.
const (
	Fail = "fail"
	Ok   = "ok"

	IntentsTotalKey          = "board_intents_total"
	IntentDurationSecondsKey = "board_intent_duration_seconds"
	BroadcastsTotalKey       = "board_broadcasts_total"
	DroppedFramesTotalKey    = "board_dropped_frames_total"
	SessionsKey              = "board_sessions"
	UploadsTotalKey          = "board_uploads_total"
	UploadBytesTotalKey      = "board_upload_bytes_total"
)

// Collectors for the synchronization engine and session gateway.
var (
	IntentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: IntentsTotalKey,
		Help: "Cumulative number of client intents processed, by event and status.",
	}, []string{"event", "status"})
	IntentDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: IntentDurationSecondsKey,
		Help: "Time from receiving an intent until its broadcast was queued.",
	}, []string{"event"})
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: BroadcastsTotalKey,
		Help: "Cumulative number of events queued for delivery, by event.",
	}, []string{"event"})
	DroppedFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DroppedFramesTotalKey,
		Help: "Cumulative number of frames dropped for slow or closed sessions.",
	})
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: SessionsKey,
		Help: "Number of connected live sessions.",
	})
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: UploadsTotalKey,
		Help: "Cumulative number of icon uploads, by status.",
	}, []string{"status"})
	UploadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: UploadBytesTotalKey,
		Help: "Cumulative number of icon bytes stored.",
	})
)

// BoardCollectors lists collectors used by the board server.
func BoardCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		IntentsTotal,
		IntentDurationSeconds,
		BroadcastsTotal,
		DroppedFramesTotal,
		Sessions,
		UploadsTotal,
		UploadBytesTotal,
	}
}

// Status maps an error to the status label value.
func Status(err error) string {
	if err != nil {
		return Fail
	}
	return Ok
}
