package journal

import (
	"context"
	"time"

	"codeberg.org/mutker/simtemp/internal/sensor"
)

// Journal records threshold alerts for later inspection.
type Journal interface {
	Record(ctx context.Context, entry *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Repository defines the storage behind a Journal
type Repository interface {
	Record(entry *Entry) error
	Recent(limit int) ([]Entry, error)
	Close() error
}

// AlertSource is satisfied by *sensor.Core.
type AlertSource interface {
	WaitAlert(ctx context.Context, afterSeq uint64) (sensor.AlertEvent, error)
}

// Entry is one journaled alert. Seq is the alert's ordinal within the
// sensor's lifetime, starting at 1.
type Entry struct {
	Seq             uint64    `json:"seq"`
	Timestamp       uint64    `json:"timestamp_ns"`
	TempMilliC      int32     `json:"temp_mC"`
	ThresholdMilliC int32     `json:"threshold_mC"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// EntryFromAlert converts a sensor alert into a journal entry.
func EntryFromAlert(ev sensor.AlertEvent, at time.Time) *Entry {
	return &Entry{
		Seq:             ev.Seq,
		Timestamp:       ev.Sample.Timestamp,
		TempMilliC:      ev.Sample.TempMilliC,
		ThresholdMilliC: ev.ThresholdMilliC,
		RecordedAt:      at.UTC(),
	}
}
