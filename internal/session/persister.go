package session

import (
	"context"

	xlog "github.com/jwulff/memo/internal/log"
	"github.com/jwulff/memo/internal/metrics"
)

// persist inserts finished chunks in the order they were closed. A failed
// insert is reported but never rolls back the capture.
func (m *Manager) persist(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for seg := range m.persistQ {
		saved, err := m.store.Insert(ctx, seg)
		if err != nil {
			metrics.StoreWriteFailuresTotal.Inc()
			m.logger.Error().Err(err).Str(xlog.FieldPath, seg.FilePath).Msg("segment insert failed")
			m.emit(Event{Kind: EventStoreWriteFailed, Path: seg.FilePath, Err: &StoreWriteError{Path: seg.FilePath, Err: err}})
			continue
		}
		metrics.SegmentsPersistedTotal.Inc()
		m.logger.Info().
			Int64(xlog.FieldSegmentID, saved.ID).
			Str(xlog.FieldPath, saved.FilePath).
			Int64(xlog.FieldDuration, saved.DurationMillis()).
			Msg("segment persisted")
		m.emit(Event{Kind: EventSegmentPersisted, Path: saved.FilePath, Segment: &saved})
	}
}
