package session

import (
	"context"
	"errors"
	"time"

	"dental-bot/internal/models"
)

// ErrNotFound means no live scratch state exists for the conversation.
var ErrNotFound = errors.New("session not found")

// Session is the scratch state of one conversation.
type Session struct {
	ConversationID string            `json:"conversation_id"`
	State          string            `json:"state"`
	Draft          models.VisitDraft `json:"draft"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Reset discards collected values and moves the session to state.
func (s *Session) Reset(state string) {
	s.State = state
	s.Draft = models.VisitDraft{}
}

// Store persists scratch state keyed by conversation ID.
type Store interface {
	Get(ctx context.Context, conversationID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, conversationID string) error
}
