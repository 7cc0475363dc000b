package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/lorebound/lorebound-backend/internal/domain"
	"github.com/lorebound/lorebound-backend/internal/pkg/dbctx"
	apperr "github.com/lorebound/lorebound-backend/internal/pkg/errors"
	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
	"github.com/lorebound/lorebound-backend/internal/pkg/nodeid"
)

// StreamSession is one in-flight generation. It lives in memory only;
// nothing is persisted until Finalize, which is the sole durability
// boundary. A crash mid-stream loses the in-flight text by design.
type StreamSession struct {
	ID        string
	ChatID    uuid.UUID
	ParentID  *string
	SpeakerID uuid.UUID
	// NodeClientID is pre-assigned so the eventual persisted node carries
	// it as clientId and optimistic client state reconciles to one logical
	// node instead of two.
	NodeClientID string
	StartedAt    time.Time

	mu      sync.Mutex
	content strings.Builder
	cancel  context.CancelFunc
}

func (s *StreamSession) appendDelta(delta string) {
	s.mu.Lock()
	s.content.WriteString(delta)
	s.mu.Unlock()
}

// Content snapshots the accumulated text so far.
func (s *StreamSession) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content.String()
}

func (s *StreamSession) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *StreamSession) fireCancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StreamStore is the slice of ChatService the session manager needs: the
// active path for prompt building and the append that persists the final
// text.
type StreamStore interface {
	AppendMessage(dbc dbctx.Context, req AppendRequest) (*types.ChatNode, *types.ChatNode, error)
	GetActivePath(dbc dbctx.Context, chatID uuid.UUID) ([]string, map[string]*types.ChatNode, error)
}

// StreamSessionManager owns zero-or-one active generation per chat. It
// accumulates tokens server-side, broadcasts deltas, and commits the final
// text into the tree exactly once. Start while a session is active is
// rejected, never queued.
type StreamSessionManager interface {
	Start(ctx context.Context, chatID uuid.UUID, parentID *string, speakerID uuid.UUID) (*StreamSession, error)
	Ingest(streamID string, delta string) bool
	Finalize(ctx context.Context, streamID string) (*types.ChatNode, error)
	Cancel(chatID uuid.UUID) bool
	Fail(streamID string, cause error)
	// Active reports the chat's in-flight session, if any.
	Active(chatID uuid.UUID) (*StreamSession, bool)
	// CurrentContent is the catch-up path for clients that subscribed
	// mid-stream and missed earlier chunk events.
	CurrentContent(chatID uuid.UUID) (string, bool)
	// Generate runs the whole lifecycle: start, prompt from the active
	// path, delta loop, finalize (or fail).
	Generate(ctx context.Context, chatID uuid.UUID, parentID *string, speakerID uuid.UUID) (*StreamSession, error)
}

type streamSessionManager struct {
	log    *logger.Logger
	store  StreamStore
	ai     AIClient
	notify ChatNotifier

	mu     sync.Mutex
	byChat map[uuid.UUID]*StreamSession
	byID   map[string]*StreamSession
}

func NewStreamSessionManager(log *logger.Logger, store StreamStore, ai AIClient, notify ChatNotifier) StreamSessionManager {
	return &streamSessionManager{
		log:    log.With("service", "StreamSessionManager"),
		store:  store,
		ai:     ai,
		notify: notify,
		byChat: make(map[uuid.UUID]*StreamSession),
		byID:   make(map[string]*StreamSession),
	}
}

func (m *streamSessionManager) Start(ctx context.Context, chatID uuid.UUID, parentID *string, speakerID uuid.UUID) (*StreamSession, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id: %w", apperr.ErrInvalidArgument)
	}
	sess := &StreamSession{
		ID:           uuid.New().String(),
		ChatID:       chatID,
		ParentID:     parentID,
		SpeakerID:    speakerID,
		NodeClientID: nodeid.Generate(),
		StartedAt:    time.Now().UTC(),
	}

	m.mu.Lock()
	if _, busy := m.byChat[chatID]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("chat %s: %w", chatID, apperr.ErrStreamActive)
	}
	m.byChat[chatID] = sess
	m.byID[sess.ID] = sess
	m.mu.Unlock()

	// Published before any token so subscribers can render a placeholder.
	m.notify.StreamStarted(chatID, sess.ID, parentID, speakerID, sess.NodeClientID)
	m.log.Debug("stream started", "chat_id", chatID.String(), "stream_id", sess.ID)
	return sess, nil
}

// Ingest is the hot path: accumulate and broadcast, never touch the store.
// Returns false when the session is no longer registered (finalized,
// cancelled, or never existed).
func (m *streamSessionManager) Ingest(streamID string, delta string) bool {
	m.mu.Lock()
	sess, ok := m.byID[streamID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	sess.appendDelta(delta)
	m.notify.StreamDelta(sess.ChatID, sess.ID, delta)
	return true
}

func (m *streamSessionManager) Finalize(ctx context.Context, streamID string) (*types.ChatNode, error) {
	sess, ok := m.deregisterByID(streamID)
	if !ok {
		return nil, fmt.Errorf("stream %s: %w", streamID, apperr.ErrNotFound)
	}

	node, _, err := m.store.AppendMessage(dbctx.Context{Ctx: ctx}, AppendRequest{
		ChatID:    sess.ChatID,
		ParentID:  sess.ParentID,
		SpeakerID: sess.SpeakerID,
		Message:   sess.Content(),
		IsBot:     true,
		ClientID:  sess.NodeClientID,
	})
	if err != nil {
		m.log.Error("finalize append failed", "stream_id", streamID, "error", err)
		m.notify.StreamError(sess.ChatID, sess.ID, err.Error())
		return nil, err
	}

	m.notify.StreamEnded(sess.ChatID, sess.ID, node.ID)
	m.log.Debug("stream finalized", "stream_id", streamID, "node_id", node.ID)
	return node, nil
}

func (m *streamSessionManager) Cancel(chatID uuid.UUID) bool {
	m.mu.Lock()
	sess, ok := m.byChat[chatID]
	if ok {
		delete(m.byChat, chatID)
		delete(m.byID, sess.ID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	// Cooperative: the delivery loop observes the cancelled context on its
	// next iteration and exits without publishing anything further.
	sess.fireCancel()
	m.notify.StreamError(sess.ChatID, sess.ID, "cancelled")
	m.log.Debug("stream cancelled", "chat_id", chatID.String(), "stream_id", sess.ID)
	return true
}

// Fail reports an upstream failure. If the session was already removed
// (cancelled concurrently), the error is swallowed: cancellation wins the
// race.
func (m *streamSessionManager) Fail(streamID string, cause error) {
	sess, ok := m.deregisterByID(streamID)
	if !ok {
		return
	}
	msg := "generation failed"
	if cause != nil {
		msg = cause.Error()
	}
	m.notify.StreamError(sess.ChatID, sess.ID, msg)
	m.log.Warn("stream failed", "stream_id", streamID, "error", msg)
}

func (m *streamSessionManager) Active(chatID uuid.UUID) (*StreamSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byChat[chatID]
	return sess, ok
}

func (m *streamSessionManager) CurrentContent(chatID uuid.UUID) (string, bool) {
	m.mu.Lock()
	sess, ok := m.byChat[chatID]
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	return sess.Content(), true
}

func (m *streamSessionManager) Generate(ctx context.Context, chatID uuid.UUID, parentID *string, speakerID uuid.UUID) (*StreamSession, error) {
	// Prompt is built from the request context before the session exists,
	// so a store failure here never leaves a dangling active session.
	path, nodes, err := m.store.GetActivePath(dbctx.Context{Ctx: ctx}, chatID)
	if err != nil {
		return nil, err
	}
	messages := make([]AIMessage, 0, len(path))
	for _, id := range path {
		n := nodes[id]
		if n == nil {
			continue
		}
		role := "user"
		if n.IsBot {
			role = "assistant"
		}
		messages = append(messages, AIMessage{Role: role, Content: n.Message})
	}

	sess, err := m.Start(ctx, chatID, parentID, speakerID)
	if err != nil {
		return nil, err
	}

	// The delivery loop outlives the HTTP request that started it; the
	// session's own cancel func is the only way to stop it early.
	genCtx, cancel := context.WithCancel(context.Background())
	sess.setCancel(cancel)

	go func() {
		defer cancel()
		err := m.ai.StreamReply(genCtx, messages, func(delta string) error {
			if err := genCtx.Err(); err != nil {
				return err
			}
			if !m.Ingest(sess.ID, delta) {
				return context.Canceled
			}
			return nil
		})
		if err != nil {
			// Cancel already deregistered and published; Fail suppresses
			// the late error in that case.
			m.Fail(sess.ID, err)
			return
		}
		if _, err := m.Finalize(context.Background(), sess.ID); err != nil && !apperr.Is(err, apperr.ErrNotFound) {
			m.log.Error("finalize after generation failed", "stream_id", sess.ID, "error", err)
		}
	}()

	return sess, nil
}

func (m *streamSessionManager) deregisterByID(streamID string) (*StreamSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[streamID]
	if !ok {
		return nil, false
	}
	delete(m.byID, streamID)
	delete(m.byChat, sess.ChatID)
	return sess, true
}
