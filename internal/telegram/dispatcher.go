package telegram

import (
	"context"
	"errors"
	"time"

	"dental-bot/internal/dialogue"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler answers one inbound message of a conversation.
type Handler interface {
	Handle(ctx context.Context, conversationID, text string) (*dialogue.Reply, error)
}

// BotAPI is the part of the Bot API the dispatcher needs.
type BotAPI interface {
	GetUpdates(ctx context.Context, offset int64) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, markup *ReplyMarkup) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
}

const (
	defaultMinBackoff = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Dispatcher 长轮询消息分发器
type Dispatcher struct {
	api     BotAPI
	handler Handler
	workers int
	logger  *zap.Logger

	offset     int64
	backoff    time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewDispatcher(api BotAPI, handler Handler, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		api:        api,
		handler:    handler,
		workers:    workers,
		logger:     logger,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

// Run polls until ctx is cancelled. Poll failures back off and are retried;
// they never end the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Telegram dispatcher started", zap.Int("workers", d.workers))
	defer d.logger.Info("Telegram dispatcher stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := d.api.GetUpdates(ctx, d.offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.backoff = d.nextBackoff()
			d.logger.Warn("Failed to poll updates",
				zap.Error(err),
				zap.Duration("retry_in", d.backoff),
			)
			if !sleep(ctx, d.backoff) {
				return nil
			}
			continue
		}
		d.backoff = 0
		d.Dispatch(ctx, updates)
	}
}

// Dispatch handles one batch. Messages of one chat run in arrival order;
// chats run concurrently up to the worker limit. The offset moves past the
// batch once every chat is done.
func (d *Dispatcher) Dispatch(ctx context.Context, updates []Update) {
	if len(updates) == 0 {
		return
	}

	var order []int64
	byChat := make(map[int64][]*Message)
	for i := range updates {
		u := updates[i]
		if u.UpdateID >= d.offset {
			d.offset = u.UpdateID + 1
		}
		if u.Message == nil {
			continue
		}
		chatID := u.Message.Chat.ID
		if _, ok := byChat[chatID]; !ok {
			order = append(order, chatID)
		}
		byChat[chatID] = append(byChat[chatID], u.Message)
	}

	// 处理中途的错误只记录日志, g.Wait 不会返回错误
	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, chatID := range order {
		msgs := byChat[chatID]
		g.Go(func() error {
			for _, m := range msgs {
				d.handleMessage(ctx, m)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *Message) {
	conversationID := m.Chat.ConversationID()

	reply, err := d.handler.Handle(ctx, conversationID, m.Text)
	if err != nil {
		level := d.logger.Error
		if errors.Is(err, dialogue.ErrExportFailed) || errors.Is(err, dialogue.ErrVisitNotSaved) {
			level = d.logger.Warn
		}
		level("Failed to handle message",
			zap.String("conversation_id", conversationID),
			zap.Int64("message_id", m.MessageID),
			zap.Error(err),
		)
	}
	if reply == nil {
		return
	}

	// the document goes first so the menu text ends up below it
	if reply.Document != nil {
		if err := d.api.SendDocument(ctx, m.Chat.ID, reply.Document.Path, ""); err != nil {
			d.logger.Error("Failed to send document",
				zap.String("conversation_id", conversationID),
				zap.String("path", reply.Document.Path),
				zap.Error(err),
			)
		}
		// every export is a fresh snapshot; nothing reads it after delivery
		if err := reply.Document.Remove(); err != nil {
			d.logger.Warn("Failed to remove export",
				zap.String("path", reply.Document.Path),
				zap.Error(err),
			)
		}
	}
	if reply.Text == "" {
		return
	}
	if err := d.api.SendMessage(ctx, m.Chat.ID, reply.Text, MarkupFor(reply)); err != nil {
		d.logger.Error("Failed to send reply",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) nextBackoff() time.Duration {
	if d.backoff < d.minBackoff {
		return d.minBackoff
	}
	if next := d.backoff * 2; next < d.maxBackoff {
		return next
	}
	return d.maxBackoff
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
