package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/models"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/transport"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/grouping"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/storage"
)

type ItemsController struct {
	boardsStorage storage.FeedbackBoardStorage
	itemsStorage  storage.FeedbackItemStorage
	engine        *grouping.Engine
	bus           Broadcaster
}

func NewItemsController(boardsStorage storage.FeedbackBoardStorage, itemsStorage storage.FeedbackItemStorage, engine *grouping.Engine, bus Broadcaster) *ItemsController {
	return &ItemsController{
		boardsStorage: boardsStorage,
		itemsStorage:  itemsStorage,
		engine:        engine,
		bus:           bus,
	}
}

func (c *ItemsController) RegisterRoutes(engine *gin.Engine, authMiddleware gin.HandlerFunc) {
	group := engine.Group("/api/teams/:teamId/boards/:boardId/items", authMiddleware)

	group.GET("", c.listItems)
	group.POST("", c.createItem)
	group.GET("/:itemId", c.getItem)
	group.PUT("/:itemId", c.updateItem)
	group.DELETE("/:itemId", c.deleteItem)
	group.POST("/:itemId/group", c.groupItem)
	group.POST("/:itemId/move", c.moveItem)
}

// listItems godoc
// @Summary List all items on a board
// @Tags items
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Success 200 {array} storage.FeedbackItem
// @Failure 500 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId}/items [get]
func (c *ItemsController) listItems(g *gin.Context) {
	items, err := c.itemsStorage.GetAll(g.Request.Context(), g.Param("boardId"))
	if err != nil {
		if errors.Is(err, storage.ErrCollectionMissing) {
			g.JSON(http.StatusOK, []*storage.FeedbackItem{})
			return
		}
		logging.Log.Errorf("failed to list items: %v", err)
		g.JSON(http.StatusInternalServerError, &models.ErrorResponse{Error: "could not list items"})
		return
	}
	g.JSON(http.StatusOK, items)
}

// createItem godoc
// @Summary Create a feedback item
// @Description New items are only accepted while the board collects feedback.
// @Tags items
// @Accept json
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Param item body models.CreateItemRequest true "Item content"
// @Success 201 {object} storage.FeedbackItem
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId}/items [post]
func (c *ItemsController) createItem(g *gin.Context) {
	var req models.CreateItemRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "invalid request format"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "title must not be empty"})
		return
	}

	board, err := c.boardsStorage.Get(g.Request.Context(), g.Param("teamId"), g.Param("boardId"))
	if err != nil {
		respondStorageError(g, "board", err)
		return
	}
	if board.ActivePhase != storage.PhaseCollect {
		g.JSON(http.StatusConflict, &models.ErrorResponse{Error: "items can only be created while collecting"})
		return
	}
	if !board.HasColumn(req.ColumnID) {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "unknown column"})
		return
	}

	item := &storage.FeedbackItem{
		BoardID:        board.ID,
		ID:             gonanoid.MustGenerate(models.Alphabet, 12),
		ColumnID:       req.ColumnID,
		Title:          strings.TrimSpace(req.Title),
		Description:    req.Description,
		CreatedBy:      transport.UserID(g),
		CreatedAt:      time.Now().UTC(),
		VoteCollection: map[string]int{},
	}

	if err := c.itemsStorage.Create(g.Request.Context(), item); err != nil {
		logging.Log.Errorf("failed to create item: %v", err)
		g.JSON(http.StatusInternalServerError, &models.ErrorResponse{Error: "could not create item"})
		return
	}

	c.bus.BroadcastNewItem(g.Request.Context(), item.BoardID, item.ColumnID, item.ID)
	g.JSON(http.StatusCreated, item)
}

// getItem godoc
// @Summary Get a single item
// @Tags items
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Param itemId path string true "Item ID"
// @Success 200 {object} storage.FeedbackItem
// @Failure 404 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId}/items/{itemId} [get]
func (c *ItemsController) getItem(g *gin.Context) {
	item, err := c.itemsStorage.Get(g.Request.Context(), g.Param("boardId"), g.Param("itemId"))
	if err != nil {
		respondStorageError(g, "item", err)
		return
	}
	g.JSON(http.StatusOK, item)
}

// updateItem godoc
// @Summary Update item content or timer state
// @Description A title that is empty after trimming deletes the item.
// @Tags items
// @Accept json
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Param itemId path string true "Item ID"
// @Param item body models.UpdateItemRequest true "Fields to update"
// @Success 200 {object} storage.FeedbackItem
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId}/items/{itemId} [put]
func (c *ItemsController) updateItem(g *gin.Context) {
	var req models.UpdateItemRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "invalid request format"})
		return
	}

	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		c.deleteItem(g)
		return
	}

	item, err := c.itemsStorage.Get(g.Request.Context(), g.Param("boardId"), g.Param("itemId"))
	if err != nil {
		respondStorageError(g, "item", err)
		return
	}

	if req.Title != nil {
		item.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		item.Description = *req.Description
	}
	if req.TimerSecs != nil {
		item.TimerSecs = *req.TimerSecs
	}
	if req.TimerRunning != nil {
		item.TimerRunning = *req.TimerRunning
	}
	if req.TimerID != nil {
		item.TimerID = *req.TimerID
	}

	if err := c.itemsStorage.Update(g.Request.Context(), item); err != nil {
		respondStorageError(g, "item", err)
		return
	}

	c.bus.BroadcastUpdatedItem(g.Request.Context(), item.BoardID, item.ColumnID, item.ID)
	g.JSON(http.StatusOK, item)
}

// deleteItem godoc
// @Summary Delete an item, cascading to its grouping
// @Description Items carrying votes are rejected. Children of the deleted
// item become independent root items again.
// @Tags items
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Param itemId path string true "Item ID"
// @Success 200 {object} models.GroupingResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId}/items/{itemId} [delete]
func (c *ItemsController) deleteItem(g *gin.Context) {
	boardID := g.Param("boardId")

	item, err := c.itemsStorage.Get(g.Request.Context(), boardID, g.Param("itemId"))
	if err != nil {
		respondStorageError(g, "item", err)
		return
	}

	res, err := c.engine.CascadeDelete(g.Request.Context(), boardID, item.ID)
	if err != nil {
		respondGroupingError(g, res, err)
		return
	}

	for _, updated := range res.Updated {
		c.bus.BroadcastUpdatedItem(g.Request.Context(), boardID, updated.ColumnID, updated.ID)
	}
	c.bus.BroadcastDeletedItem(g.Request.Context(), boardID, item.ColumnID, item.ID)
	g.JSON(http.StatusOK, models.GroupingResponse{Updated: res.Updated, DeletedID: res.DeletedID})
}

// groupItem godoc
// @Summary Group an item under a parent item
// @Tags items
// @Accept json
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Param itemId path string true "Item ID (the child)"
// @Param body body models.GroupItemRequest true "Parent item"
// @Success 200 {object} models.GroupingResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId}/items/{itemId}/group [post]
func (c *ItemsController) groupItem(g *gin.Context) {
	var req models.GroupItemRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "invalid request format"})
		return
	}

	boardID := g.Param("boardId")
	if !c.groupingAllowed(g) {
		return
	}

	res, err := c.engine.AttachAsChild(g.Request.Context(), boardID, req.ParentID, g.Param("itemId"))
	if err != nil {
		respondGroupingError(g, res, err)
		return
	}

	for _, updated := range res.Updated {
		c.bus.BroadcastUpdatedItem(g.Request.Context(), boardID, updated.ColumnID, updated.ID)
	}
	g.JSON(http.StatusOK, models.GroupingResponse{Updated: res.Updated})
}

// moveItem godoc
// @Summary Move an item into a column as an independent root item
// @Tags items
// @Accept json
// @Produce json
// @Param teamId path string true "Team ID"
// @Param boardId path string true "Board ID"
// @Param itemId path string true "Item ID"
// @Param body body models.MoveItemRequest true "Target column"
// @Success 200 {object} models.GroupingResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/teams/{teamId}/boards/{boardId}/items/{itemId}/move [post]
func (c *ItemsController) moveItem(g *gin.Context) {
	var req models.MoveItemRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "invalid request format"})
		return
	}

	boardID := g.Param("boardId")
	board, err := c.boardsStorage.Get(g.Request.Context(), g.Param("teamId"), boardID)
	if err != nil {
		respondStorageError(g, "board", err)
		return
	}
	if board.ActivePhase != storage.PhaseGroup && board.ActivePhase != storage.PhaseVote {
		g.JSON(http.StatusConflict, &models.ErrorResponse{Error: "grouping is only allowed while grouping or voting"})
		return
	}
	if !board.HasColumn(req.ColumnID) {
		g.JSON(http.StatusBadRequest, &models.ErrorResponse{Error: "unknown column"})
		return
	}

	res, err := c.engine.DetachToColumn(g.Request.Context(), boardID, g.Param("itemId"), req.ColumnID)
	if err != nil {
		respondGroupingError(g, res, err)
		return
	}

	for _, updated := range res.Updated {
		c.bus.BroadcastUpdatedItem(g.Request.Context(), boardID, updated.ColumnID, updated.ID)
	}
	g.JSON(http.StatusOK, models.GroupingResponse{Updated: res.Updated})
}

func (c *ItemsController) groupingAllowed(g *gin.Context) bool {
	board, err := c.boardsStorage.Get(g.Request.Context(), g.Param("teamId"), g.Param("boardId"))
	if err != nil {
		respondStorageError(g, "board", err)
		return false
	}
	if board.ActivePhase != storage.PhaseGroup && board.ActivePhase != storage.PhaseVote {
		g.JSON(http.StatusConflict, &models.ErrorResponse{Error: "grouping is only allowed while grouping or voting"})
		return false
	}
	return true
}

// respondGroupingError surfaces structural conflicts as 409 and reports
// partial results from multi-document writes that failed midway. The
// updates that did land are returned so the caller can reconcile.
func respondGroupingError(g *gin.Context, res *grouping.Result, err error) {
	switch {
	case errors.Is(err, grouping.ErrSelfParent), errors.Is(err, grouping.ErrNestedParent), errors.Is(err, grouping.ErrHasVotes):
		g.JSON(http.StatusConflict, &models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		g.JSON(http.StatusNotFound, &models.ErrorResponse{Error: "item not found"})
	case errors.Is(err, storage.ErrConflict):
		g.JSON(http.StatusConflict, &models.ErrorResponse{Error: "item was modified concurrently, reload and retry"})
	default:
		logging.Log.Errorf("grouping operation failed: %v", err)
		if res != nil && len(res.Updated) > 0 {
			logging.Log.Warnf("grouping operation persisted %d of its writes before failing", len(res.Updated))
		}
		g.JSON(http.StatusInternalServerError, &models.ErrorResponse{Error: "grouping operation failed"})
	}
}
