// Package metrics provides Prometheus metrics for the recorder daemon.
// Labels are bounded: no paths or ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionRecording is 1 while a recording session is active.
	SessionRecording = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memo_session_recording",
		Help: "1 while a recording session is active, 0 otherwise.",
	})

	// ChunksRotatedTotal counts mid-session rotations.
	ChunksRotatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memo_chunks_rotated_total",
		Help: "Total number of chunk rotations performed while recording.",
	})

	// SegmentsPersistedTotal counts segments written to the store.
	SegmentsPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memo_segments_persisted_total",
		Help: "Total number of recording segments persisted.",
	})

	// ChunksDroppedTotal counts empty chunks that were discarded.
	ChunksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memo_chunks_dropped_total",
		Help: "Total number of zero-length or missing chunks discarded.",
	})

	// StoreWriteFailuresTotal counts failed segment inserts.
	StoreWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memo_store_write_failures_total",
		Help: "Total number of segment inserts that failed.",
	})

	// CaptureErrorsTotal counts capture driver failures by operation.
	CaptureErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memo_capture_errors_total",
		Help: "Total number of capture driver errors, by operation (begin/end).",
	}, []string{"op"})

	// CaptureHandlesOpen tracks live hardware capture handles. Never above 1.
	CaptureHandlesOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memo_capture_handles_open",
		Help: "Number of currently open capture handles.",
	})

	// PlaybackActive is 1 while a playback is running.
	PlaybackActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memo_playback_active",
		Help: "1 while a playback is active, 0 otherwise.",
	})

	// PermissionRequestsTotal counts microphone permission prompts by outcome.
	PermissionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memo_permission_requests_total",
		Help: "Total number of microphone permission requests, by result.",
	}, []string{"result"})
)

// RecordCaptureError increments the capture error counter for op.
func RecordCaptureError(op string) {
	CaptureErrorsTotal.WithLabelValues(op).Inc()
}

// RecordPermission increments the permission counter.
func RecordPermission(granted bool) {
	result := "denied"
	if granted {
		result = "granted"
	}
	PermissionRequestsTotal.WithLabelValues(result).Inc()
}

// SetRecording mirrors the session status into the gauge.
func SetRecording(on bool) {
	if on {
		SessionRecording.Set(1)
		return
	}
	SessionRecording.Set(0)
}

// SetPlaybackActive mirrors the playback status into the gauge.
func SetPlaybackActive(on bool) {
	if on {
		PlaybackActive.Set(1)
		return
	}
	PlaybackActive.Set(0)
}
