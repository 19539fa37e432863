package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/models"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/transport"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/storage"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/voting"
)

type VotingController struct {
	boardsStorage storage.FeedbackBoardStorage
	ledger        *voting.Ledger
	bus           Broadcaster
}

func NewVotingController(boardsStorage storage.FeedbackBoardStorage, ledger *voting.Ledger, bus Broadcaster) *VotingController {
	return &VotingController{
		boardsStorage: boardsStorage,
		ledger:        ledger,
		bus:           bus,
	}
}

func (c *VotingController) RegisterRoutes(engine *gin.Engine, authMiddleware gin.HandlerFunc) {
	group := engine.Group("/api/teams/:teamId/boards/:boardId/items", authMiddleware)

	group.POST("/:itemId/vote", c.castVote)
}

// castVote godoc
// @Summary Cast or retract a vote on an item
// @Description Adds or removes one vote by the authenticated user, bounded
// by the board's per-user cap. Rejections are reported, never fatal.
// @Tags voting
// @Accept json
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Param itemId path string true "Item ID"
// @Param vote body models.CastVoteRequest true "Vote direction"
// @Success 200 {object} models.CastVoteResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "Cap reached, nothing to retract, or board not voting"
// @Router /api/teams/{teamId}/boards/{boardId}/items/{itemId}/vote [post]
func (c *VotingController) castVote(g *gin.Context) {
	var req models.CastVoteRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "invalid request format"})
		return
	}

	teamID := g.Param("teamId")
	boardID := g.Param("boardId")

	board, err := c.boardsStorage.Get(g.Request.Context(), teamID, boardID)
	if err != nil {
		respondStorageError(g, "board", err)
		return
	}
	if board.ActivePhase != storage.PhaseVote {
		g.JSON(http.StatusConflict, &models.ErrorResponse{Error: "voting is not open on this board"})
		return
	}

	dir := voting.Increment
	if req.Direction == "decrement" {
		dir = voting.Decrement
	}

	user := transport.UserID(g)
	item, board, err := c.ledger.CastVote(g.Request.Context(), teamID, boardID, g.Param("itemId"), user, dir)
	if err != nil {
		switch {
		case errors.Is(err, voting.ErrVoteCapReached), errors.Is(err, voting.ErrNoVotesToRemove):
			g.JSON(http.StatusConflict, &models.ErrorResponse{Error: err.Error()})
		case errors.Is(err, storage.ErrNotFound):
			g.JSON(http.StatusNotFound, &models.ErrorResponse{Error: "item not found"})
		default:
			logging.Log.Errorf("failed to cast vote: %v", err)
			g.JSON(http.StatusConflict, &models.ErrorResponse{Error: "could not vote, please retry"})
		}
		return
	}

	c.bus.BroadcastUpdatedItem(g.Request.Context(), boardID, item.ColumnID, item.ID)
	c.bus.BroadcastUpdatedBoard(g.Request.Context(), teamID, boardID)
	g.JSON(http.StatusOK, models.TransformVoteResult(item, board, user))
}
