package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"dental-bot/internal/models"

	"github.com/go-redis/redis/v8"
)

// StreamNotifier appends VisitRecordedEvent JSON to a Redis stream
// (fields "data" and "timestamp").
type StreamNotifier struct {
	client *redis.Client
	stream string
}

func NewStreamNotifier(client *redis.Client, stream string) *StreamNotifier {
	return &StreamNotifier{client: client, stream: stream}
}

func (n *StreamNotifier) VisitRecorded(ctx context.Context, visit models.PatientVisit) error {
	event := newVisitRecordedEvent(visit)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal visit event: %w", err)
	}

	// 使用 XADD 命令添加消息
	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": event.RecordedAt.Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", n.stream, err)
	}
	return nil
}
