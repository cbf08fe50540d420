package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dental-bot/internal/export"
	"dental-bot/internal/models"
	"dental-bot/internal/notify"
	"dental-bot/internal/repository"
	"dental-bot/internal/session"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

var (
	// ErrVisitNotSaved wraps a failed commit at the payment step.
	ErrVisitNotSaved = errors.New("visit not saved")
	// ErrExportFailed wraps a failed export.
	ErrExportFailed = errors.New("export failed")
)

// Exporter turns the stored visits into a deliverable document.
type Exporter interface {
	Export(ctx context.Context, visits []models.PatientVisit) (*export.Artifact, error)
}

const (
	// notifyTimeout bounds the best-effort publication after a commit.
	notifyTimeout = 5 * time.Second
	// storeAttempts is how often the session is written after a commit.
	storeAttempts = 3
)

// Engine drives the add-patient dialogue. Messages of one conversation are
// handled strictly one after another; different conversations run in parallel.
type Engine struct {
	sessions session.Store
	visits   repository.VisitsRepository
	exporter Exporter
	notifier notify.Notifier
	services []string
	locks    *keyedMutex
	logger   *zap.Logger

	notifyTimeout time.Duration

	// committed remembers drafts whose record was stored while the session
	// write that follows failed. A stored session still holding such a draft
	// is moved past the payment step instead of being committed again.
	committedMu sync.Mutex
	committed   map[string]models.VisitDraft
}

// NewEngine 创建对话引擎
func NewEngine(
	sessions session.Store,
	visits repository.VisitsRepository,
	exporter Exporter,
	notifier notify.Notifier,
	services []string,
	logger *zap.Logger,
) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		sessions: sessions,
		visits:   visits,
		exporter: exporter,
		notifier: notifier,
		services: services,
		locks:    newKeyedMutex(),
		logger:   logger,

		notifyTimeout: notifyTimeout,
		committed:     make(map[string]models.VisitDraft),
	}
}

// Handle processes one inbound text message and returns the answer for the
// operator. The reply is non-nil even when an error is returned; the error
// describes what failed (ErrVisitNotSaved, ErrExportFailed or a session store
// failure).
func (e *Engine) Handle(ctx context.Context, conversationID, text string) (*Reply, error) {
	unlock := e.locks.Lock(conversationID)
	defer unlock()

	sess, err := e.loadSession(ctx, conversationID)
	if err != nil {
		return &Reply{Text: textInternal}, err
	}

	from, draft := sess.State, sess.Draft
	reply, stepErr := e.step(ctx, sess, strings.TrimSpace(text))
	saved := from == StateCollectPaid && sess.State == StateAwaitExport

	attempts := 1
	if saved {
		attempts = storeAttempts
	}
	if err := e.storeSession(ctx, sess, attempts); err != nil {
		e.logger.Error("Failed to store session",
			zap.String("conversation_id", conversationID),
			zap.String("state", sess.State),
			zap.Bool("visit_saved", saved),
			zap.Error(err),
		)
		if saved {
			// the record is in the store; the stale session must not commit it twice
			e.rememberCommit(conversationID, draft)
			reply = finalMenu(textSaved, textStateNotStored)
		}
		return reply, errors.Join(stepErr, err)
	}
	e.forgetCommit(conversationID)

	if from != sess.State {
		e.logger.Debug("Conversation state changed",
			zap.String("conversation_id", conversationID),
			zap.String("from", from),
			zap.String("to", sess.State),
		)
	}
	return reply, stepErr
}

// State returns the current state of a conversation, idle when none is stored.
func (e *Engine) State(ctx context.Context, conversationID string) (string, error) {
	sess, err := e.loadSession(ctx, conversationID)
	if err != nil {
		return "", err
	}
	return sess.State, nil
}

func (e *Engine) loadSession(ctx context.Context, conversationID string) (*session.Session, error) {
	sess, err := e.sessions.Get(ctx, conversationID)
	if errors.Is(err, session.ErrNotFound) {
		return &session.Session{ConversationID: conversationID, State: StateIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !knownState(sess.State) {
		e.logger.Warn("Unknown session state, resetting",
			zap.String("conversation_id", conversationID),
			zap.String("state", sess.State),
		)
		sess.Reset(StateIdle)
	}
	if sess.State == StateCollectPaid && e.alreadyCommitted(conversationID, sess.Draft) {
		e.logger.Warn("Session lags behind a saved visit, skipping the payment step",
			zap.String("conversation_id", conversationID),
		)
		sess.Reset(StateAwaitExport)
	}
	return sess, nil
}

// storeSession drops idle sessions: an idle conversation has no scratch state.
func (e *Engine) storeSession(ctx context.Context, sess *session.Session, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if sess.State == StateIdle {
			err = e.sessions.Delete(ctx, sess.ConversationID)
		} else {
			err = e.sessions.Save(ctx, sess)
		}
		if err == nil || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (e *Engine) rememberCommit(conversationID string, draft models.VisitDraft) {
	e.committedMu.Lock()
	defer e.committedMu.Unlock()
	e.committed[conversationID] = draft
}

func (e *Engine) forgetCommit(conversationID string) {
	e.committedMu.Lock()
	defer e.committedMu.Unlock()
	delete(e.committed, conversationID)
}

func (e *Engine) alreadyCommitted(conversationID string, draft models.VisitDraft) bool {
	e.committedMu.Lock()
	defer e.committedMu.Unlock()
	d, ok := e.committed[conversationID]
	return ok && d == draft
}

func (e *Engine) step(ctx context.Context, sess *session.Session, input string) (*Reply, error) {
	switch {
	case matches(input, CommandStart):
		sess.Reset(StateIdle)
		return mainMenu(), nil
	case isCancel(input):
		if sess.State != StateIdle {
			if err := e.fire(ctx, sess, EventCancel, input); err != nil {
				return &Reply{Text: textInternal}, err
			}
		}
		sess.Reset(StateIdle)
		return mainMenu(textCancelled), nil
	}

	switch sess.State {
	case StateIdle:
		return e.stepIdle(ctx, sess, input)
	case StateAwaitExport:
		return e.stepAwaitExport(ctx, sess, input)
	default:
		return e.stepCollect(ctx, sess, input)
	}
}

func (e *Engine) stepIdle(ctx context.Context, sess *session.Session, input string) (*Reply, error) {
	switch {
	case matches(input, PhraseAddPatient):
		if err := e.fire(ctx, sess, EventStart, input); err != nil {
			return &Reply{Text: textInternal}, err
		}
		return e.prompt(sess.State), nil
	case matches(input, PhraseHelp):
		return &Reply{Text: textHelpIntro + strings.Join(e.services, "\n"), Keyboard: mainKeyboard}, nil
	default:
		return mainMenu(), nil
	}
}

func (e *Engine) stepAwaitExport(ctx context.Context, sess *session.Session, input string) (*Reply, error) {
	switch {
	case matches(input, PhraseExport):
		return e.export(ctx, sess.ConversationID)
	case matches(input, PhraseAddNewPatient):
		if err := e.fire(ctx, sess, EventStart, input); err != nil {
			return &Reply{Text: textInternal}, err
		}
		return e.prompt(sess.State), nil
	default:
		return finalMenu(), nil
	}
}

func (e *Engine) stepCollect(ctx context.Context, sess *session.Session, input string) (*Reply, error) {
	if input == "" || isCommand(input) {
		return e.prompt(sess.State, textEmptyAnswer), nil
	}

	event := fieldEvents[sess.State]
	err := e.fire(ctx, sess, event, input)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidCost):
		return e.prompt(sess.State, textBadCost), nil
	case errors.Is(err, ErrVisitNotSaved):
		e.logger.Error("Failed to save visit",
			zap.String("conversation_id", sess.ConversationID),
			zap.Error(err),
		)
		return &Reply{Text: lines(textNotSaved, textEnterPaid), RemoveKeyboard: true}, err
	default:
		return &Reply{Text: textInternal}, err
	}

	if sess.State == StateAwaitExport {
		return finalMenu(textSaved), nil
	}
	return e.prompt(sess.State), nil
}

// fire runs one FSM transition from the session's current state. Field
// capture and the commit happen in before_ callbacks; a callback that cancels
// leaves the session where it was.
func (e *Engine) fire(ctx context.Context, sess *session.Session, event, input string) error {
	var stepErr error
	abort := func(ev *fsm.Event, err error) {
		stepErr = err
		ev.Cancel(err)
	}

	machine := fsm.NewFSM(sess.State, transitions, fsm.Callbacks{
		"before_" + EventStart: func(_ context.Context, _ *fsm.Event) {
			sess.Draft = models.VisitDraft{}
		},
		"before_" + EventCancel: func(_ context.Context, _ *fsm.Event) {
			sess.Draft = models.VisitDraft{}
		},
		"before_" + EventName: func(_ context.Context, _ *fsm.Event) {
			sess.Draft.Name = input
		},
		"before_" + EventDate: func(_ context.Context, _ *fsm.Event) {
			sess.Draft.Date = input
		},
		"before_" + EventService: func(_ context.Context, _ *fsm.Event) {
			sess.Draft.Service = input
		},
		"before_" + EventCost: func(_ context.Context, ev *fsm.Event) {
			if _, err := models.ParseCost(input); err != nil {
				abort(ev, err)
				return
			}
			sess.Draft.Cost = input
		},
		"before_" + EventPaid: func(ctx context.Context, ev *fsm.Event) {
			if err := e.commit(ctx, sess, input); err != nil {
				abort(ev, err)
			}
		},
	})

	if err := machine.Event(ctx, event); err != nil {
		if stepErr != nil {
			return stepErr
		}
		return fmt.Errorf("transition %s from %s: %w", event, sess.State, err)
	}
	sess.State = machine.Current()
	return nil
}

// commit persists the finished draft. The draft is discarded only after the
// store accepted the record.
func (e *Engine) commit(ctx context.Context, sess *session.Session, paid string) error {
	draft := sess.Draft
	draft.Paid = paid
	fields, err := draft.Fields()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVisitNotSaved, err)
	}

	id, err := e.visits.Append(ctx, fields)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVisitNotSaved, err)
	}
	visit := fields.WithID(id)
	sess.Draft = models.VisitDraft{}

	e.logger.Info("Visit saved",
		zap.String("conversation_id", sess.ConversationID),
		zap.Int64("visit_id", id),
		zap.String("service", visit.Service),
	)

	nctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
	defer cancel()
	if err := e.notifier.VisitRecorded(nctx, visit); err != nil {
		e.logger.Warn("Failed to publish visit",
			zap.Int64("visit_id", id),
			zap.Error(err),
		)
	}
	return nil
}

func (e *Engine) export(ctx context.Context, conversationID string) (*Reply, error) {
	visits, err := e.visits.ListAll(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrExportFailed, err)
		e.logger.Error("Failed to list visits", zap.String("conversation_id", conversationID), zap.Error(err))
		return finalMenu(textExportFailed), err
	}

	art, err := e.exporter.Export(ctx, visits)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrExportFailed, err)
		e.logger.Error("Failed to export visits", zap.String("conversation_id", conversationID), zap.Error(err))
		return finalMenu(textExportFailed), err
	}

	reply := finalMenu()
	reply.Document = art
	return reply, nil
}

// prompt renders the question asked in state, optionally after a notice.
func (e *Engine) prompt(state string, notice ...string) *Reply {
	var r *Reply
	switch state {
	case StateCollectName:
		r = &Reply{Text: textEnterName, RemoveKeyboard: true}
	case StateCollectDate:
		r = &Reply{Text: textEnterDate, RemoveKeyboard: true}
	case StateCollectService:
		r = &Reply{Text: textChooseSvc, Keyboard: serviceKeyboard(e.services)}
	case StateCollectCost:
		r = &Reply{Text: textEnterCost, RemoveKeyboard: true}
	case StateCollectPaid:
		r = &Reply{Text: textEnterPaid, RemoveKeyboard: true}
	case StateAwaitExport:
		r = finalMenu()
	default:
		r = mainMenu()
	}
	if len(notice) > 0 {
		r.Text = lines(append(notice, r.Text)...)
	}
	return r
}
