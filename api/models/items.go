package models

import "github.com/microsoft/vsts-extension-retrospectives-sub000/storage"

type CreateItemRequest struct {
	ColumnID    string `json:"columnId" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// UpdateItemRequest carries content and timer mutations. A title that is
// empty after trimming deletes the item.
type UpdateItemRequest struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	TimerSecs    *int    `json:"timerSecs"`
	TimerRunning *bool   `json:"timerRunning"`
	TimerID      *string `json:"timerId"`
}

type GroupItemRequest struct {
	ParentID string `json:"parentId" binding:"required"`
}

type MoveItemRequest struct {
	ColumnID string `json:"columnId" binding:"required"`
}

// GroupingResponse reports every document a grouping operation touched.
type GroupingResponse struct {
	Updated   []*storage.FeedbackItem `json:"updated"`
	DeletedID string                  `json:"deletedId,omitempty"`
}
