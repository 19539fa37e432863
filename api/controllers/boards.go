package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/models"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/transport"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/storage"
)

// Broadcaster is the outbound side of the realtime sync bus. Every signal
// carries identifiers only; receivers re-fetch the documents.
type Broadcaster interface {
	BroadcastNewItem(ctx context.Context, boardID, columnID, itemID string)
	BroadcastUpdatedItem(ctx context.Context, boardID, columnID, itemID string)
	BroadcastDeletedItem(ctx context.Context, boardID, columnID, itemID string)
	BroadcastNewBoard(ctx context.Context, teamID, boardID string)
	BroadcastUpdatedBoard(ctx context.Context, teamID, boardID string)
	BroadcastDeletedBoard(ctx context.Context, teamID, boardID string)
}

type BoardsController struct {
	boardsStorage storage.FeedbackBoardStorage
	itemsStorage  storage.FeedbackItemStorage
	bus           Broadcaster
}

func NewBoardsController(boardsStorage storage.FeedbackBoardStorage, itemsStorage storage.FeedbackItemStorage, bus Broadcaster) *BoardsController {
	return &BoardsController{
		boardsStorage: boardsStorage,
		itemsStorage:  itemsStorage,
		bus:           bus,
	}
}

func (c *BoardsController) RegisterRoutes(engine *gin.Engine, authMiddleware gin.HandlerFunc) {
	group := engine.Group("/api/teams/:teamId/boards", authMiddleware)

	group.GET("", c.listBoards)
	group.POST("", c.createBoard)
	group.GET("/:boardId", c.getBoard)
	group.PUT("/:boardId", c.updateBoard)
	group.DELETE("/:boardId", c.deleteBoard)
}

// listBoards godoc
// @Summary List all boards of a team
// @Tags boards
// @Produce json
// @Param teamId path string true "Team ID"
// @Success 200 {array} storage.FeedbackBoard
// @Failure 500 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards [get]
func (c *BoardsController) listBoards(g *gin.Context) {
	boards, err := c.boardsStorage.GetAll(g.Request.Context(), g.Param("teamId"))
	if err != nil {
		if errors.Is(err, storage.ErrCollectionMissing) {
			g.JSON(http.StatusOK, []*storage.FeedbackBoard{})
			return
		}
		logging.Log.Errorf("failed to list boards: %v", err)
		g.JSON(http.StatusInternalServerError, &models.ErrorResponse{Error: "could not list boards"})
		return
	}
	g.JSON(http.StatusOK, boards)
}

// createBoard godoc
// @Summary Create a board
// @Tags boards
// @Accept json
// @Produce json
// @Param teamId path string true "Team ID"
// @Param board body models.CreateBoardRequest true "Board definition"
// @Success 201 {object} storage.FeedbackBoard
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards [post]
func (c *BoardsController) createBoard(g *gin.Context) {
	var req models.CreateBoardRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "invalid request format"})
		return
	}

	columns := models.TransformColumns(req.Columns)
	for i := range columns {
		if columns[i].ID == "" {
			columns[i].ID = gonanoid.MustGenerate(models.Alphabet, 8)
		}
	}

	maxVotes := req.MaxVotesPerUser
	if maxVotes <= 0 {
		maxVotes = models.DefaultMaxVotesPerUser
	}

	board := &storage.FeedbackBoard{
		TeamID:                         g.Param("teamId"),
		ID:                             gonanoid.MustGenerate(models.Alphabet, 12),
		Title:                          req.Title,
		Columns:                        columns,
		MaxVotesPerUser:                maxVotes,
		BoardVoteCollection:            map[string]int{},
		ActivePhase:                    storage.PhaseCollect,
		CreatedBy:                      transport.UserID(g),
		CreatedAt:                      time.Now().UTC(),
		IsAnonymous:                    req.IsAnonymous,
		ShouldShowFeedbackAfterCollect: req.ShouldShowFeedbackAfterCollect,
	}

	if err := c.boardsStorage.Create(g.Request.Context(), board); err != nil {
		logging.Log.Errorf("failed to create board: %v", err)
		g.JSON(http.StatusInternalServerError, &models.ErrorResponse{Error: "could not create board"})
		return
	}

	c.bus.BroadcastNewBoard(g.Request.Context(), board.TeamID, board.ID)
	g.JSON(http.StatusCreated, board)
}

// getBoard godoc
// @Summary Get a single board
// @Tags boards
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Success 200 {object} storage.FeedbackBoard
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId} [get]
func (c *BoardsController) getBoard(g *gin.Context) {
	board, err := c.boardsStorage.Get(g.Request.Context(), g.Param("teamId"), g.Param("boardId"))
	if err != nil {
		respondStorageError(g, "board", err)
		return
	}
	g.JSON(http.StatusOK, board)
}

// updateBoard godoc
// @Summary Update a board (title, columns, cap, phase)
// @Tags boards
// @Accept json
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Param board body models.UpdateBoardRequest true "Fields to update"
// @Success 200 {object} storage.FeedbackBoard
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId} [put]
func (c *BoardsController) updateBoard(g *gin.Context) {
	var req models.UpdateBoardRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "invalid request format"})
		return
	}
	if req.ActivePhase != nil && !models.ValidPhase(*req.ActivePhase) {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "unknown phase"})
		return
	}

	board, err := c.boardsStorage.Get(g.Request.Context(), g.Param("teamId"), g.Param("boardId"))
	if err != nil {
		respondStorageError(g, "board", err)
		return
	}

	if req.Title != nil {
		board.Title = *req.Title
	}
	if req.Columns != nil {
		board.Columns = models.TransformColumns(req.Columns)
	}
	if req.MaxVotesPerUser != nil && *req.MaxVotesPerUser > 0 {
		board.MaxVotesPerUser = *req.MaxVotesPerUser
	}
	if req.ActivePhase != nil {
		board.ActivePhase = *req.ActivePhase
	}
	if req.IsAnonymous != nil {
		board.IsAnonymous = *req.IsAnonymous
	}
	if req.ShouldShowFeedbackAfterCollect != nil {
		board.ShouldShowFeedbackAfterCollect = *req.ShouldShowFeedbackAfterCollect
	}

	if err := c.boardsStorage.Update(g.Request.Context(), board); err != nil {
		respondStorageError(g, "board", err)
		return
	}

	c.bus.BroadcastUpdatedBoard(g.Request.Context(), board.TeamID, board.ID)
	g.JSON(http.StatusOK, board)
}

// deleteBoard godoc
// @Summary Delete a board and its item collection
// @Tags boards
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Success 204 "deleted"
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId} [delete]
func (c *BoardsController) deleteBoard(g *gin.Context) {
	teamID := g.Param("teamId")
	boardID := g.Param("boardId")

	board, err := c.boardsStorage.Get(g.Request.Context(), teamID, boardID)
	if err != nil {
		respondStorageError(g, "board", err)
		return
	}

	// The board's item collection goes with it. Each delete is an
	// independent write; a partial failure leaves orphan item documents
	// that the next full reload ignores.
	items, err := c.itemsStorage.GetAll(g.Request.Context(), boardID)
	if err != nil && !errors.Is(err, storage.ErrCollectionMissing) {
		logging.Log.Errorf("failed to load items of board %s for delete: %v", boardID, err)
		g.JSON(http.StatusInternalServerError, &models.ErrorResponse{Error: "could not delete board"})
		return
	}
	for _, item := range items {
		if err := c.itemsStorage.Delete(g.Request.Context(), boardID, item.ID); err != nil {
			logging.Log.Errorf("failed to delete item %s of board %s: %v", item.ID, boardID, err)
		}
	}

	if err := c.boardsStorage.Delete(g.Request.Context(), teamID, boardID); err != nil {
		logging.Log.Errorf("failed to delete board %s: %v", boardID, err)
		g.JSON(http.StatusInternalServerError, &models.ErrorResponse{Error: "could not delete board"})
		return
	}

	c.bus.BroadcastDeletedBoard(g.Request.Context(), board.TeamID, board.ID)
	g.Status(http.StatusNoContent)
}

// respondStorageError maps storage sentinels onto HTTP statuses.
func respondStorageError(g *gin.Context, kind string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		g.JSON(http.StatusNotFound, &models.ErrorResponse{Error: kind + " not found"})
	case errors.Is(err, storage.ErrConflict):
		g.JSON(http.StatusConflict, &models.ErrorResponse{Error: kind + " was modified concurrently, reload and retry"})
	case errors.Is(err, storage.ErrAlreadyExists):
		g.JSON(http.StatusConflict, &models.ErrorResponse{Error: kind + " already exists"})
	default:
		logging.Log.Errorf("storage failure on %s: %v", kind, err)
		g.JSON(http.StatusInternalServerError, &models.ErrorResponse{Error: "storage failure"})
	}
}
