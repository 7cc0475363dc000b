package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	chatrepo "github.com/lorebound/lorebound-backend/internal/data/repos/chat"
	types "github.com/lorebound/lorebound-backend/internal/domain"
	"github.com/lorebound/lorebound-backend/internal/pkg/dbctx"
	apperr "github.com/lorebound/lorebound-backend/internal/pkg/errors"
	"github.com/lorebound/lorebound-backend/internal/realtime"
)

func newTestChatService(t *testing.T) (ChatService, *captureEmitter) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "chat.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Chat{}, &types.ChatNode{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	log := testLogger(t)
	emitter := &captureEmitter{}
	svc := NewChatService(db, log,
		chatrepo.NewChatRepo(db, log),
		chatrepo.NewNodeRepo(db, log),
		NewChatNotifier(emitter),
	)
	return svc, emitter
}

func bg() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func mustChat(t *testing.T, svc ChatService) *types.Chat {
	t.Helper()
	c, err := svc.CreateChat(bg(), "Test Chat", []uuid.UUID{uuid.New()}, []string{"fantasy"})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func mustAppend(t *testing.T, svc ChatService, chatID uuid.UUID, parentID *string, msg string, isBot bool) *types.ChatNode {
	t.Helper()
	node, _, err := svc.AppendMessage(bg(), AppendRequest{
		ChatID:    chatID,
		ParentID:  parentID,
		SpeakerID: uuid.New(),
		Message:   msg,
		IsBot:     isBot,
	})
	if err != nil {
		t.Fatalf("append %q: %v", msg, err)
	}
	return node
}

func TestAppendMessageRootBootstrapAndActiveBranchPolicy(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)

	root := mustAppend(t, svc, c.ID, nil, "greetings", false)
	got, err := svc.GetChat(bg(), c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.RootNodeID == nil || *got.RootNodeID != root.ID {
		t.Fatalf("root bootstrap: want %s got %v", root.ID, got.RootNodeID)
	}

	first := mustAppend(t, svc, c.ID, &root.ID, "reply one", true)
	second := mustAppend(t, svc, c.ID, &root.ID, "reply two", true)

	nodes, err := svc.GetTree(bg(), c.ID)
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}
	parent := nodes[root.ID]
	kids := parent.Children()
	if len(kids) != 2 || kids[0] != first.ID || kids[1] != second.ID {
		t.Fatalf("child order must be creation order, got %v", kids)
	}
	// A freshly appended child always becomes the active branch.
	if parent.ActiveChildIndex == nil || *parent.ActiveChildIndex != 1 {
		t.Fatalf("fresh child must be active, got %v", parent.ActiveChildIndex)
	}

	path, _, err := svc.GetActivePath(bg(), c.ID)
	if err != nil {
		t.Fatalf("active path: %v", err)
	}
	if len(path) != 2 || path[0] != root.ID || path[1] != second.ID {
		t.Fatalf("active path: want [%s %s] got %v", root.ID, second.ID, path)
	}
}

func TestAppendSecondRootRejected(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)
	mustAppend(t, svc, c.ID, nil, "root", false)

	_, _, err := svc.AppendMessage(bg(), AppendRequest{ChatID: c.ID, SpeakerID: uuid.New(), Message: "second root"})
	if !apperr.Is(err, apperr.ErrConflict) {
		t.Fatalf("second root must conflict, got %v", err)
	}
}

func TestAppendExternalIDValidation(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)

	if _, _, err := svc.AppendMessage(bg(), AppendRequest{
		ChatID: c.ID, SpeakerID: uuid.New(), Message: "x", ExternalID: "short",
	}); !apperr.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("malformed external id must be invalid-argument, got %v", err)
	}
	if _, _, err := svc.AppendMessage(bg(), AppendRequest{
		ChatID: c.ID, SpeakerID: uuid.New(), Message: "x", ClientID: "not-alnum-12!",
	}); !apperr.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("malformed client id must be invalid-argument, got %v", err)
	}

	node, _, err := svc.AppendMessage(bg(), AppendRequest{
		ChatID: c.ID, SpeakerID: uuid.New(), Message: "root", ExternalID: "abc123xyz000",
	})
	if err != nil {
		t.Fatalf("valid external id: %v", err)
	}
	if node.ID != "abc123xyz000" {
		t.Fatalf("external id must become the node id, got %s", node.ID)
	}

	if _, _, err := svc.AppendMessage(bg(), AppendRequest{
		ChatID: c.ID, ParentID: &node.ID, SpeakerID: uuid.New(), Message: "dup", ExternalID: "abc123xyz000",
	}); !apperr.Is(err, apperr.ErrConflict) {
		t.Fatalf("id collision must conflict, got %v", err)
	}
}

func TestEditMessageTouchesTextOnly(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)
	root := mustAppend(t, svc, c.ID, nil, "root", false)
	child := mustAppend(t, svc, c.ID, &root.ID, "before", true)

	edited, err := svc.EditMessage(bg(), child.ID, "after")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Message != "after" || edited.UpdatedAt == nil {
		t.Fatalf("edit must update text and updatedAt, got %+v", edited)
	}

	nodes, _ := svc.GetTree(bg(), c.ID)
	parent := nodes[root.ID]
	if kids := parent.Children(); len(kids) != 1 || kids[0] != child.ID {
		t.Fatalf("edit must not touch tree shape, got %v", kids)
	}

	if _, err := svc.EditMessage(bg(), "missingnode0", "x"); !apperr.Is(err, apperr.ErrNotFound) {
		t.Fatalf("edit of missing node: want not-found, got %v", err)
	}
}

func TestDeleteSubtreeRemovesDescendantsAndReclamps(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)
	root := mustAppend(t, svc, c.ID, nil, "root", false)
	a := mustAppend(t, svc, c.ID, &root.ID, "a", true)
	a1 := mustAppend(t, svc, c.ID, &a.ID, "a1", false)
	b := mustAppend(t, svc, c.ID, &root.ID, "b", true)

	deleted, err := svc.DeleteMessage(bg(), a.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatalf("delete must report success")
	}

	nodes, _ := svc.GetTree(bg(), c.ID)
	if _, ok := nodes[a.ID]; ok {
		t.Fatalf("a must be deleted")
	}
	if _, ok := nodes[a1.ID]; ok {
		t.Fatalf("descendant a1 must be deleted")
	}
	// No surviving node may reference a deleted id.
	for _, n := range nodes {
		for _, kid := range n.Children() {
			if kid == a.ID || kid == a1.ID {
				t.Fatalf("node %s still references deleted id %s", n.ID, kid)
			}
		}
	}
	parent := nodes[root.ID]
	kids := parent.Children()
	if len(kids) != 1 || kids[0] != b.ID {
		t.Fatalf("parent child list after delete: got %v", kids)
	}
	if parent.ActiveChildIndex == nil || *parent.ActiveChildIndex != 0 {
		t.Fatalf("active index must re-clamp to last remaining, got %v", parent.ActiveChildIndex)
	}

	if deleted, err := svc.DeleteMessage(bg(), "missingnode0"); err != nil || deleted {
		t.Fatalf("delete of missing node: want (false,nil), got (%v,%v)", deleted, err)
	}
}

func TestDeleteKeepsEarlierActiveSibling(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)
	root := mustAppend(t, svc, c.ID, nil, "root", false)
	a := mustAppend(t, svc, c.ID, &root.ID, "a", true)
	mustAppend(t, svc, c.ID, &root.ID, "b", true)
	cc := mustAppend(t, svc, c.ID, &root.ID, "c", true)

	// Point the active branch back at a, then delete c.
	if _, err := svc.SwitchBranch(bg(), c.ID, a.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if _, err := svc.DeleteMessage(bg(), cc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	nodes, _ := svc.GetTree(bg(), c.ID)
	parent := nodes[root.ID]
	if parent.ActiveChildIndex == nil || *parent.ActiveChildIndex != 0 {
		t.Fatalf("active index before removed position must be unchanged, got %v", parent.ActiveChildIndex)
	}
	if active, ok := parent.ActiveChild(); !ok || active != a.ID {
		t.Fatalf("active child must still be a, got %q", active)
	}
}

func TestDeleteRootClearsChatRoot(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)
	root := mustAppend(t, svc, c.ID, nil, "root", false)
	mustAppend(t, svc, c.ID, &root.ID, "child", true)

	if _, err := svc.DeleteMessage(bg(), root.ID); err != nil {
		t.Fatalf("delete root: %v", err)
	}
	got, err := svc.GetChat(bg(), c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.RootNodeID != nil {
		t.Fatalf("chat root must be cleared, got %v", *got.RootNodeID)
	}
	nodes, _ := svc.GetTree(bg(), c.ID)
	if len(nodes) != 0 {
		t.Fatalf("all nodes must be gone, got %d", len(nodes))
	}
}

func TestSwitchBranchPatchesAncestors(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)
	root := mustAppend(t, svc, c.ID, nil, "root", false)
	a := mustAppend(t, svc, c.ID, &root.ID, "a", true)
	a1 := mustAppend(t, svc, c.ID, &a.ID, "a1", false)
	mustAppend(t, svc, c.ID, &root.ID, "b", true) // root now points at b

	mutated, err := svc.SwitchBranch(bg(), c.ID, a1.ID)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	// Only root needs repointing; a already points at a1.
	if len(mutated) != 1 || mutated[0].ID != root.ID {
		t.Fatalf("want only root mutated, got %+v", mutated)
	}

	path, _, err := svc.GetActivePath(bg(), c.ID)
	if err != nil {
		t.Fatalf("active path: %v", err)
	}
	if len(path) != 3 || path[2] != a1.ID {
		t.Fatalf("active path must end at target, got %v", path)
	}

	// Switching to an already-active target patches nothing.
	mutated, err = svc.SwitchBranch(bg(), c.ID, a1.ID)
	if err != nil {
		t.Fatalf("second switch: %v", err)
	}
	if len(mutated) != 0 {
		t.Fatalf("already-active switch must be empty, got %+v", mutated)
	}

	if _, err := svc.SwitchBranch(bg(), c.ID, "missingnode0"); !apperr.Is(err, apperr.ErrNotFound) {
		t.Fatalf("switch to missing node: want not-found, got %v", err)
	}
	other := mustChat(t, svc)
	if _, err := svc.SwitchBranch(bg(), other.ID, a1.ID); !apperr.Is(err, apperr.ErrNotFound) {
		t.Fatalf("switch across chats: want not-found, got %v", err)
	}
}

func TestSwipeSiblingClampsAtEdges(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)
	root := mustAppend(t, svc, c.ID, nil, "root", false)
	a := mustAppend(t, svc, c.ID, &root.ID, "a", true)
	b := mustAppend(t, svc, c.ID, &root.ID, "b", true)

	parent, sibling, err := svc.SwipeSibling(bg(), b.ID, SwipePrev)
	if err != nil {
		t.Fatalf("swipe prev: %v", err)
	}
	if sibling.ID != a.ID {
		t.Fatalf("swipe prev from b must land on a, got %s", sibling.ID)
	}
	if parent.ActiveChildIndex == nil || *parent.ActiveChildIndex != 0 {
		t.Fatalf("parent active index after swipe: got %v", parent.ActiveChildIndex)
	}

	// Past the first sibling: boundary, index untouched.
	if _, _, err := svc.SwipeSibling(bg(), a.ID, SwipePrev); !apperr.Is(err, apperr.ErrBoundary) {
		t.Fatalf("swipe past first: want boundary, got %v", err)
	}
	nodes, _ := svc.GetTree(bg(), c.ID)
	if idx := nodes[root.ID].ActiveChildIndex; idx == nil || *idx != 0 {
		t.Fatalf("boundary swipe must not mutate, got %v", idx)
	}

	if _, _, err := svc.SwipeSibling(bg(), root.ID, SwipeNext); !apperr.Is(err, apperr.ErrBoundary) {
		t.Fatalf("swipe on root: want boundary, got %v", err)
	}
	if _, _, err := svc.SwipeSibling(bg(), b.ID, SwipeDirection("sideways")); !apperr.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("bad direction: want invalid-argument, got %v", err)
	}

	only := mustAppend(t, svc, c.ID, &a.ID, "only child", false)
	if _, _, err := svc.SwipeSibling(bg(), only.ID, SwipeNext); !apperr.Is(err, apperr.ErrBoundary) {
		t.Fatalf("single child swipe: want boundary, got %v", err)
	}
}

func TestGetActivePathOnEmptyChat(t *testing.T) {
	svc, _ := newTestChatService(t)
	c := mustChat(t, svc)

	path, nodes, err := svc.GetActivePath(bg(), c.ID)
	if err != nil {
		t.Fatalf("active path: %v", err)
	}
	if len(path) != 0 || len(nodes) != 0 {
		t.Fatalf("empty chat must yield empty path, got %v", path)
	}

	if _, err := svc.GetTree(bg(), uuid.New()); !apperr.Is(err, apperr.ErrNotFound) {
		t.Fatalf("tree of missing chat: want not-found, got %v", err)
	}
}

func TestFinalizeReconcilesToOneLogicalNode(t *testing.T) {
	svc, emitter := newTestChatService(t)
	c := mustChat(t, svc)
	root := mustAppend(t, svc, c.ID, nil, "tell me a story", false)

	mgr := NewStreamSessionManager(testLogger(t), svc, NewSimulatedAIClient(testLogger(t)), NewChatNotifier(emitter))
	sess, err := mgr.Start(context.Background(), c.ID, &root.ID, uuid.New())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	mgr.Ingest(sess.ID, "Once upon ")
	mgr.Ingest(sess.ID, "a time.")

	node, err := mgr.Finalize(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if node.Message != "Once upon a time." || node.ClientID != sess.NodeClientID {
		t.Fatalf("finalized node mismatch: %+v", node)
	}

	nodes, _ := svc.GetTree(bg(), c.ID)
	matches := 0
	for _, n := range nodes {
		if n.ClientID == sess.NodeClientID {
			matches++
		}
	}
	if matches != 1 {
		t.Fatalf("client id must reconcile to exactly one node, got %d", matches)
	}

	// The finalized node is the new active leaf.
	path, _, _ := svc.GetActivePath(bg(), c.ID)
	if len(path) == 0 || path[len(path)-1] != node.ID {
		t.Fatalf("finalized node must end the active path, got %v", path)
	}

	end := emitter.waitFor(t, realtime.SSEEventStreamEnd, time.Second)
	if ev := end.Data.(realtime.StreamEvent); ev.NodeID != node.ID {
		t.Fatalf("stream:end nodeId: want %s got %s", node.ID, ev.NodeID)
	}
}
