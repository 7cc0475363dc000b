package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/lorebound/lorebound-backend/internal/domain"
	"github.com/lorebound/lorebound-backend/internal/pkg/dbctx"
	apperr "github.com/lorebound/lorebound-backend/internal/pkg/errors"
	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
	"github.com/lorebound/lorebound-backend/internal/pkg/nodeid"
	"github.com/lorebound/lorebound-backend/internal/realtime"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

// captureEmitter records every published SSE message.
type captureEmitter struct {
	mu   sync.Mutex
	msgs []realtime.SSEMessage
}

func (e *captureEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	e.mu.Lock()
	e.msgs = append(e.msgs, msg)
	e.mu.Unlock()
}

func (e *captureEmitter) events(event realtime.SSEEvent) []realtime.SSEMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []realtime.SSEMessage
	for _, m := range e.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (e *captureEmitter) waitFor(t *testing.T, event realtime.SSEEvent, timeout time.Duration) realtime.SSEMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := e.events(event); len(got) > 0 {
			return got[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s event", event)
	return realtime.SSEMessage{}
}

// fakeStreamStore records appends and serves a canned active path.
type fakeStreamStore struct {
	mu        sync.Mutex
	appends   []AppendRequest
	appendErr error
	path      []string
	nodes     map[string]*types.ChatNode
}

func (f *fakeStreamStore) AppendMessage(dbc dbctx.Context, req AppendRequest) (*types.ChatNode, *types.ChatNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return nil, nil, f.appendErr
	}
	f.appends = append(f.appends, req)
	return &types.ChatNode{
		ID:       nodeid.Generate(),
		ChatID:   req.ChatID,
		ClientID: req.ClientID,
		ParentID: req.ParentID,
		Message:  req.Message,
		IsBot:    req.IsBot,
	}, nil, nil
}

func (f *fakeStreamStore) GetActivePath(dbc dbctx.Context, chatID uuid.UUID) ([]string, map[string]*types.ChatNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path, f.nodes, nil
}

func (f *fakeStreamStore) appended() []AppendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AppendRequest{}, f.appends...)
}

func newTestManager(t *testing.T) (StreamSessionManager, *fakeStreamStore, *captureEmitter) {
	t.Helper()
	emitter := &captureEmitter{}
	store := &fakeStreamStore{nodes: map[string]*types.ChatNode{}}
	mgr := NewStreamSessionManager(testLogger(t), store, NewSimulatedAIClient(testLogger(t)), NewChatNotifier(emitter))
	return mgr, store, emitter
}

func TestStartRejectsSecondSession(t *testing.T) {
	mgr, _, emitter := newTestManager(t)
	chatID := uuid.New()

	sess, err := mgr.Start(context.Background(), chatID, nil, uuid.New())
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if sess.NodeClientID == "" || !nodeid.Valid(sess.NodeClientID) {
		t.Fatalf("session must pre-assign a valid node client id, got %q", sess.NodeClientID)
	}
	if _, err := mgr.Start(context.Background(), chatID, nil, uuid.New()); !apperr.Is(err, apperr.ErrStreamActive) {
		t.Fatalf("second start must report active stream, got %v", err)
	}

	starts := emitter.events(realtime.SSEEventStreamStart)
	if len(starts) != 1 {
		t.Fatalf("want one stream:start event, got %d", len(starts))
	}
	ev, ok := starts[0].Data.(realtime.StreamEvent)
	if !ok {
		t.Fatalf("stream:start payload type: %T", starts[0].Data)
	}
	if ev.NodeClientID != sess.NodeClientID || ev.StreamID != sess.ID {
		t.Fatalf("stream:start payload mismatch: %+v vs session %+v", ev, sess)
	}
}

func TestIngestAccumulatesAndBroadcasts(t *testing.T) {
	mgr, _, emitter := newTestManager(t)
	chatID := uuid.New()

	sess, err := mgr.Start(context.Background(), chatID, nil, uuid.New())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !mgr.Ingest(sess.ID, "Once upon ") {
		t.Fatalf("ingest must accept a registered stream")
	}
	if !mgr.Ingest(sess.ID, "a time") {
		t.Fatalf("ingest must accept a registered stream")
	}

	content, ok := mgr.CurrentContent(chatID)
	if !ok || content != "Once upon a time" {
		t.Fatalf("current content: want %q got %q ok=%v", "Once upon a time", content, ok)
	}
	if chunks := emitter.events(realtime.SSEEventStreamChunk); len(chunks) != 2 {
		t.Fatalf("want 2 chunk events, got %d", len(chunks))
	}

	if mgr.Ingest("unknown-stream", "x") {
		t.Fatalf("ingest must reject unknown streams")
	}
}

func TestFinalizePersistsOnceWithClientID(t *testing.T) {
	mgr, store, emitter := newTestManager(t)
	chatID := uuid.New()
	parent := "parentnode00"

	sess, err := mgr.Start(context.Background(), chatID, &parent, uuid.New())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	mgr.Ingest(sess.ID, "final text")

	node, err := mgr.Finalize(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	appends := store.appended()
	if len(appends) != 1 {
		t.Fatalf("finalize must persist exactly once, got %d", len(appends))
	}
	got := appends[0]
	if got.ClientID != sess.NodeClientID {
		t.Fatalf("persisted clientId must reconcile: want %q got %q", sess.NodeClientID, got.ClientID)
	}
	if got.Message != "final text" || !got.IsBot || got.ParentID == nil || *got.ParentID != parent {
		t.Fatalf("persisted append mismatch: %+v", got)
	}

	end := emitter.waitFor(t, realtime.SSEEventStreamEnd, time.Second)
	ev := end.Data.(realtime.StreamEvent)
	if ev.NodeID != node.ID {
		t.Fatalf("stream:end nodeId: want %s got %s", node.ID, ev.NodeID)
	}

	if _, ok := mgr.CurrentContent(chatID); ok {
		t.Fatalf("session must be removed after finalize")
	}
	if _, err := mgr.Finalize(context.Background(), sess.ID); !apperr.Is(err, apperr.ErrNotFound) {
		t.Fatalf("second finalize must be not-found, got %v", err)
	}
}

func TestCancelDiscardsContent(t *testing.T) {
	mgr, store, emitter := newTestManager(t)
	chatID := uuid.New()

	sess, err := mgr.Start(context.Background(), chatID, nil, uuid.New())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	mgr.Ingest(sess.ID, "half a rep")

	if !mgr.Cancel(chatID) {
		t.Fatalf("cancel must report an active session")
	}
	if mgr.Cancel(chatID) {
		t.Fatalf("second cancel must report no active session")
	}
	if len(store.appended()) != 0 {
		t.Fatalf("cancel must not persist anything")
	}

	errs := emitter.events(realtime.SSEEventStreamError)
	if len(errs) != 1 {
		t.Fatalf("want one stream:error event, got %d", len(errs))
	}
	if ev := errs[0].Data.(realtime.StreamEvent); ev.Error != "cancelled" {
		t.Fatalf("cancel error payload: want cancelled got %q", ev.Error)
	}
}

func TestFailAfterCancelIsSuppressed(t *testing.T) {
	mgr, _, emitter := newTestManager(t)
	chatID := uuid.New()

	sess, err := mgr.Start(context.Background(), chatID, nil, uuid.New())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	mgr.Cancel(chatID)

	// A late upstream failure for the cancelled stream must be swallowed.
	mgr.Fail(sess.ID, fmt.Errorf("upstream exploded"))
	errs := emitter.events(realtime.SSEEventStreamError)
	if len(errs) != 1 {
		t.Fatalf("cancellation must win the race; want 1 error event, got %d", len(errs))
	}
}

func TestFailPublishesWhileActive(t *testing.T) {
	mgr, _, emitter := newTestManager(t)
	chatID := uuid.New()

	sess, err := mgr.Start(context.Background(), chatID, nil, uuid.New())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	mgr.Fail(sess.ID, fmt.Errorf("upstream exploded"))

	errs := emitter.events(realtime.SSEEventStreamError)
	if len(errs) != 1 {
		t.Fatalf("want 1 error event, got %d", len(errs))
	}
	if ev := errs[0].Data.(realtime.StreamEvent); ev.Error != "upstream exploded" {
		t.Fatalf("failure message: got %q", ev.Error)
	}
	if _, ok := mgr.CurrentContent(chatID); ok {
		t.Fatalf("failed session must be removed")
	}
}

// scriptedAIClient emits fixed deltas then returns.
type scriptedAIClient struct {
	deltas []string
	err    error
}

func (c *scriptedAIClient) StreamReply(ctx context.Context, messages []AIMessage, onDelta func(string) error) error {
	for _, d := range c.deltas {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return c.err
}

func TestGenerateRunsFullLifecycle(t *testing.T) {
	emitter := &captureEmitter{}
	parent := "rootnode0000"
	chatID := uuid.New()
	store := &fakeStreamStore{
		path: []string{parent},
		nodes: map[string]*types.ChatNode{
			parent: {ID: parent, ChatID: chatID, Message: "hello there", IsBot: false},
		},
	}
	ai := &scriptedAIClient{deltas: []string{"General ", "Kenobi"}}
	mgr := NewStreamSessionManager(testLogger(t), store, ai, NewChatNotifier(emitter))

	sess, err := mgr.Generate(context.Background(), chatID, &parent, uuid.New())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	end := emitter.waitFor(t, realtime.SSEEventStreamEnd, 2*time.Second)
	if ev := end.Data.(realtime.StreamEvent); ev.StreamID != sess.ID {
		t.Fatalf("stream:end for wrong stream: %+v", ev)
	}
	appends := store.appended()
	if len(appends) != 1 || appends[0].Message != "General Kenobi" {
		t.Fatalf("generated text must persist once in full, got %+v", appends)
	}
}

func TestGenerateUpstreamFailurePublishesError(t *testing.T) {
	emitter := &captureEmitter{}
	chatID := uuid.New()
	store := &fakeStreamStore{nodes: map[string]*types.ChatNode{}}
	ai := &scriptedAIClient{deltas: []string{"partial "}, err: fmt.Errorf("connection reset")}
	mgr := NewStreamSessionManager(testLogger(t), store, ai, NewChatNotifier(emitter))

	if _, err := mgr.Generate(context.Background(), chatID, nil, uuid.New()); err != nil {
		t.Fatalf("generate: %v", err)
	}

	errEv := emitter.waitFor(t, realtime.SSEEventStreamError, 2*time.Second)
	if ev := errEv.Data.(realtime.StreamEvent); ev.Error != "connection reset" {
		t.Fatalf("error payload: got %q", ev.Error)
	}
	if len(store.appended()) != 0 {
		t.Fatalf("failed generation must not persist")
	}
}

// blockingAIClient emits one delta then waits for ctx cancellation.
type blockingAIClient struct {
	emitted chan struct{}
}

func (c *blockingAIClient) StreamReply(ctx context.Context, messages []AIMessage, onDelta func(string) error) error {
	if err := onDelta("first "); err != nil {
		return err
	}
	close(c.emitted)
	<-ctx.Done()
	return ctx.Err()
}

func TestGenerateCancelMidStream(t *testing.T) {
	emitter := &captureEmitter{}
	chatID := uuid.New()
	store := &fakeStreamStore{nodes: map[string]*types.ChatNode{}}
	ai := &blockingAIClient{emitted: make(chan struct{})}
	mgr := NewStreamSessionManager(testLogger(t), store, ai, NewChatNotifier(emitter))

	if _, err := mgr.Generate(context.Background(), chatID, nil, uuid.New()); err != nil {
		t.Fatalf("generate: %v", err)
	}

	select {
	case <-ai.emitted:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for first delta")
	}
	if !mgr.Cancel(chatID) {
		t.Fatalf("cancel must find the active session")
	}

	errEv := emitter.waitFor(t, realtime.SSEEventStreamError, 2*time.Second)
	if ev := errEv.Data.(realtime.StreamEvent); ev.Error != "cancelled" {
		t.Fatalf("cancel payload: got %q", ev.Error)
	}

	// Give the delivery loop a beat to observe cancellation; it must not
	// produce an end event or a second error.
	time.Sleep(50 * time.Millisecond)
	if got := emitter.events(realtime.SSEEventStreamEnd); len(got) != 0 {
		t.Fatalf("cancelled stream must not finalize, got %d end events", len(got))
	}
	if got := emitter.events(realtime.SSEEventStreamError); len(got) != 1 {
		t.Fatalf("cancelled stream must publish exactly one error, got %d", len(got))
	}
	if len(store.appended()) != 0 {
		t.Fatalf("cancelled stream must not persist")
	}
}
