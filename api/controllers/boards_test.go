package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutils "github.com/microsoft/vsts-extension-retrospectives-sub000/api/controllers/testing"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/models"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/transport"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/grouping"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/storage"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/voting"
)

var testSecret = []byte("controller-test-secret")

// recordingBus records outbound signals instead of publishing them.
type recordingBus struct {
	mu      sync.Mutex
	signals []string
}

func (b *recordingBus) record(format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = append(b.signals, fmt.Sprintf(format, args...))
}

func (b *recordingBus) Signals() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.signals...)
}

func (b *recordingBus) BroadcastNewItem(ctx context.Context, boardID, columnID, itemID string) {
	b.record("new-item %s/%s/%s", boardID, columnID, itemID)
}

func (b *recordingBus) BroadcastUpdatedItem(ctx context.Context, boardID, columnID, itemID string) {
	b.record("updated-item %s/%s/%s", boardID, columnID, itemID)
}

func (b *recordingBus) BroadcastDeletedItem(ctx context.Context, boardID, columnID, itemID string) {
	b.record("deleted-item %s/%s/%s", boardID, columnID, itemID)
}

func (b *recordingBus) BroadcastNewBoard(ctx context.Context, teamID, boardID string) {
	b.record("new-board %s/%s", teamID, boardID)
}

func (b *recordingBus) BroadcastUpdatedBoard(ctx context.Context, teamID, boardID string) {
	b.record("updated-board %s/%s", teamID, boardID)
}

func (b *recordingBus) BroadcastDeletedBoard(ctx context.Context, teamID, boardID string) {
	b.record("deleted-board %s/%s", teamID, boardID)
}

type fixture struct {
	router *gin.Engine
	boards *storage.MemoryFeedbackBoardStorage
	items  *storage.MemoryFeedbackItemStorage
	bus    *recordingBus
}

func setupControllers(t *testing.T) *fixture {
	t.Helper()
	logging.Log = logrus.New()

	boards := storage.NewMemoryFeedbackBoardStorage()
	items := storage.NewMemoryFeedbackItemStorage()
	bus := &recordingBus{}
	engine := grouping.NewEngine(items)
	ledger := voting.NewLedger(items, boards)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	authMiddleware := transport.UserAuthMiddleware(testSecret)

	NewBoardsController(boards, items, bus).RegisterRoutes(r, authMiddleware)
	NewItemsController(boards, items, engine, bus).RegisterRoutes(r, authMiddleware)
	NewVotingController(boards, ledger, bus).RegisterRoutes(r, authMiddleware)

	return &fixture{router: r, boards: boards, items: items, bus: bus}
}

func (f *fixture) seedBoard(t *testing.T, teamID, boardID, phase string, maxVotes int) {
	t.Helper()
	err := f.boards.Create(context.Background(), &storage.FeedbackBoard{
		TeamID: teamID,
		ID:     boardID,
		Title:  "test board",
		Columns: []storage.Column{
			{ID: "went-well", Title: "Went well"},
			{ID: "needs-work", Title: "Needs work"},
			{ID: "done", Title: "Done"},
		},
		MaxVotesPerUser:     maxVotes,
		BoardVoteCollection: map[string]int{},
		ActivePhase:         phase,
	})
	require.NoError(t, err)
}

func (f *fixture) seedItem(t *testing.T, boardID, itemID, columnID string) {
	t.Helper()
	err := f.items.Create(context.Background(), &storage.FeedbackItem{
		BoardID:        boardID,
		ID:             itemID,
		ColumnID:       columnID,
		Title:          "item " + itemID,
		VoteCollection: map[string]int{},
	})
	require.NoError(t, err)
}

func authHeaders(user string) map[string]string {
	return testutils.BearerFor(testSecret, user)
}

func TestBoardRoutes(t *testing.T) {
	t.Run("requests without a token are rejected", func(t *testing.T) {
		f := setupControllers(t)

		res := testutils.PerformRequest(f.router, http.MethodGet, "/api/teams/t1/boards", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	})

	t.Run("listing a team with no boards returns an empty list", func(t *testing.T) {
		f := setupControllers(t)

		res := testutils.PerformRequest(f.router, http.MethodGet, "/api/teams/t1/boards", nil, authHeaders("u1"))
		require.Equal(t, http.StatusOK, res.Code)
		assert.JSONEq(t, "[]", res.Body.String())
	})

	t.Run("create board applies defaults and broadcasts", func(t *testing.T) {
		f := setupControllers(t)

		payload := models.CreateBoardRequest{
			Title: "Sprint 12 retro",
			Columns: []models.ColumnEntry{
				{Title: "Went well"},
				{Title: "Needs work"},
			},
		}
		res := testutils.PerformRequest(f.router, http.MethodPost, "/api/teams/t1/boards", payload, authHeaders("u1"))
		require.Equal(t, http.StatusCreated, res.Code)

		var board storage.FeedbackBoard
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &board))
		assert.Equal(t, storage.PhaseCollect, board.ActivePhase)
		assert.Equal(t, models.DefaultMaxVotesPerUser, board.MaxVotesPerUser)
		assert.Equal(t, "u1", board.CreatedBy)
		assert.NotEmpty(t, board.Columns[0].ID)
		assert.Contains(t, f.bus.Signals(), "new-board t1/"+board.ID)
	})

	t.Run("phase transition is validated", func(t *testing.T) {
		f := setupControllers(t)
		f.seedBoard(t, "t1", "b1", storage.PhaseCollect, 5)

		bogus := "Brainstorm"
		res := testutils.PerformRequest(f.router, http.MethodPut, "/api/teams/t1/boards/b1",
			models.UpdateBoardRequest{ActivePhase: &bogus}, authHeaders("u1"))
		assert.Equal(t, http.StatusBadRequest, res.Code)

		phase := storage.PhaseVote
		res = testutils.PerformRequest(f.router, http.MethodPut, "/api/teams/t1/boards/b1",
			models.UpdateBoardRequest{ActivePhase: &phase}, authHeaders("u1"))
		require.Equal(t, http.StatusOK, res.Code)

		board, err := f.boards.Get(context.Background(), "t1", "b1")
		require.NoError(t, err)
		assert.Equal(t, storage.PhaseVote, board.ActivePhase)
		assert.Contains(t, f.bus.Signals(), "updated-board t1/b1")
	})

	t.Run("unknown board is a 404", func(t *testing.T) {
		f := setupControllers(t)

		res := testutils.PerformRequest(f.router, http.MethodGet, "/api/teams/t1/boards/ghost", nil, authHeaders("u1"))
		assert.Equal(t, http.StatusNotFound, res.Code)
	})

	t.Run("deleting a board removes its item collection", func(t *testing.T) {
		f := setupControllers(t)
		f.seedBoard(t, "t1", "b1", storage.PhaseCollect, 5)
		f.seedItem(t, "b1", "i1", "went-well")
		f.seedItem(t, "b1", "i2", "needs-work")

		res := testutils.PerformRequest(f.router, http.MethodDelete, "/api/teams/t1/boards/b1", nil, authHeaders("u1"))
		require.Equal(t, http.StatusNoContent, res.Code)

		_, err := f.boards.Get(context.Background(), "t1", "b1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = f.items.Get(context.Background(), "b1", "i1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Contains(t, f.bus.Signals(), "deleted-board t1/b1")
	})
}
