package notify

import (
	"context"
	"errors"
	"time"

	"dental-bot/internal/models"
)

// EventVisitRecorded is the event name carried in every payload.
const EventVisitRecorded = "visit.recorded"

// VisitRecordedEvent 已保存就诊记录事件
type VisitRecordedEvent struct {
	Event      string              `json:"event"`
	Visit      models.PatientVisit `json:"visit"`
	RecordedAt time.Time           `json:"recorded_at"`
}

func newVisitRecordedEvent(v models.PatientVisit) VisitRecordedEvent {
	return VisitRecordedEvent{
		Event:      EventVisitRecorded,
		Visit:      v,
		RecordedAt: time.Now().UTC(),
	}
}

// Notifier announces committed visits to other systems.
type Notifier interface {
	VisitRecorded(ctx context.Context, visit models.PatientVisit) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) VisitRecorded(context.Context, models.PatientVisit) error { return nil }

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) VisitRecorded(ctx context.Context, visit models.PatientVisit) error {
	var errs []error
	for _, n := range m {
		if err := n.VisitRecorded(ctx, visit); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
