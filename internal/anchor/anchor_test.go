package anchor

//go:generate mockgen -source=anchor.go -destination=mocks/mocks.go -package=mocks Anchorer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"veilvote/internal/anchor/mocks"
	"veilvote/internal/audit"
	"veilvote/internal/poll"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newWorker(t *testing.T, anchorer Anchorer) (*Worker, *poll.InMemoryStore, *audit.InMemoryStore) {
	t.Helper()
	polls := poll.NewInMemoryStore()
	auditStore := audit.NewInMemoryStore()
	worker := NewWorker(polls, anchorer, time.Minute, audit.NewService(auditStore, testLogger()), testLogger())
	return worker, polls, auditStore
}

func createPoll(t *testing.T, polls *poll.InMemoryStore, currentRoot, anchoredRoot string) uuid.UUID {
	t.Helper()
	p := &poll.Poll{
		ID:               uuid.New(),
		Status:           poll.StatusActive,
		CurrentRoot:      currentRoot,
		LastAnchoredRoot: anchoredRoot,
	}
	require.NoError(t, polls.Create(context.Background(), p))
	return p.ID
}

func TestRunOnceAnchorsPendingRoot(t *testing.T) {
	ctrl := gomock.NewController(t)
	anchorer := mocks.NewMockAnchorer(ctrl)

	worker, polls, auditStore := newWorker(t, anchorer)
	pollID := createPoll(t, polls, "root-1", "")

	anchorer.EXPECT().Anchor(gomock.Any(), pollID, "root-1").Return("tx-abc", nil)

	worker.RunOnce(context.Background())

	p, err := polls.FindByID(context.Background(), pollID)
	require.NoError(t, err)
	assert.Equal(t, "root-1", p.LastAnchoredRoot)
	assert.Equal(t, "tx-abc", p.AnchorTxRef)

	events, err := auditStore.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventRootAnchored, events[0].Type)
}

func TestRunOnceSkipsAlreadyAnchored(t *testing.T) {
	ctrl := gomock.NewController(t)
	anchorer := mocks.NewMockAnchorer(ctrl)

	worker, polls, _ := newWorker(t, anchorer)
	createPoll(t, polls, "root-1", "root-1")

	// No Anchor expectation: calling it would fail the controller.
	worker.RunOnce(context.Background())
}

func TestRunOnceFailureRetriesNextTick(t *testing.T) {
	ctrl := gomock.NewController(t)
	anchorer := mocks.NewMockAnchorer(ctrl)

	worker, polls, auditStore := newWorker(t, anchorer)
	pollID := createPoll(t, polls, "root-1", "")

	gomock.InOrder(
		anchorer.EXPECT().Anchor(gomock.Any(), pollID, "root-1").Return("", errors.New("gateway down")),
		anchorer.EXPECT().Anchor(gomock.Any(), pollID, "root-1").Return("tx-abc", nil),
	)

	ctx := context.Background()
	worker.RunOnce(ctx)

	p, err := polls.FindByID(ctx, pollID)
	require.NoError(t, err)
	assert.Empty(t, p.LastAnchoredRoot, "failed anchor leaves the poll pending")

	worker.RunOnce(ctx)

	p, err = polls.FindByID(ctx, pollID)
	require.NoError(t, err)
	assert.Equal(t, "root-1", p.LastAnchoredRoot)

	events, err := auditStore.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventAnchorFailed, events[0].Type)
	assert.Equal(t, audit.EventRootAnchored, events[1].Type)
}

func TestRunOnceContinuesPastFailedPoll(t *testing.T) {
	ctrl := gomock.NewController(t)
	anchorer := mocks.NewMockAnchorer(ctrl)

	worker, polls, _ := newWorker(t, anchorer)
	id1 := createPoll(t, polls, "root-a", "")
	id2 := createPoll(t, polls, "root-b", "")

	anchorer.EXPECT().Anchor(gomock.Any(), id1, "root-a").Return("", errors.New("boom")).AnyTimes()
	anchorer.EXPECT().Anchor(gomock.Any(), id2, "root-b").Return("tx-2", nil).AnyTimes()

	worker.RunOnce(context.Background())

	p2, err := polls.FindByID(context.Background(), id2)
	require.NoError(t, err)
	assert.Equal(t, "root-b", p2.LastAnchoredRoot)
}

func TestHTTPAnchorerPostsRoot(t *testing.T) {
	pollID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req struct {
			PollID string `json:"pollId"`
			Root   string `json:"root"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, pollID.String(), req.PollID)
		assert.Equal(t, "root-1", req.Root)
		_ = json.NewEncoder(w).Encode(map[string]string{"txRef": "0xdeadbeef"})
	}))
	defer srv.Close()

	txRef, err := NewHTTPAnchorer(srv.URL).Anchor(context.Background(), pollID, "root-1")
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", txRef)
}

func TestHTTPAnchorerRejectsGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPAnchorer(srv.URL).Anchor(context.Background(), uuid.New(), "root-1")
	assert.Error(t, err)
}

func TestHTTPAnchorerRejectsEmptyTxRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := NewHTTPAnchorer(srv.URL).Anchor(context.Background(), uuid.New(), "root-1")
	assert.Error(t, err)
}
