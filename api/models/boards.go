package models

import (
	"github.com/microsoft/vsts-extension-retrospectives-sub000/storage"
)

type ColumnEntry struct {
	ID          string `json:"id"`
	Title       string `json:"title" binding:"required"`
	IconName    string `json:"iconName"`
	AccentColor string `json:"accentColor"`
}

type CreateBoardRequest struct {
	Title                          string        `json:"title" binding:"required"`
	Columns                        []ColumnEntry `json:"columns" binding:"required,min=1"`
	MaxVotesPerUser                int           `json:"maxVotesPerUser"`
	IsAnonymous                    bool          `json:"isAnonymous"`
	ShouldShowFeedbackAfterCollect bool          `json:"shouldShowFeedbackAfterCollect"`
}

type UpdateBoardRequest struct {
	Title                          *string       `json:"title"`
	Columns                        []ColumnEntry `json:"columns"`
	MaxVotesPerUser                *int          `json:"maxVotesPerUser"`
	ActivePhase                    *string       `json:"activePhase"`
	IsAnonymous                    *bool         `json:"isAnonymous"`
	ShouldShowFeedbackAfterCollect *bool         `json:"shouldShowFeedbackAfterCollect"`
}

func TransformColumns(entries []ColumnEntry) []storage.Column {
	columns := make([]storage.Column, 0, len(entries))
	for _, e := range entries {
		columns = append(columns, storage.Column{
			ID:          e.ID,
			Title:       e.Title,
			IconName:    e.IconName,
			AccentColor: e.AccentColor,
		})
	}
	return columns
}

// ValidPhase reports whether p is one of the workflow phases.
func ValidPhase(p string) bool {
	switch p {
	case storage.PhaseCollect, storage.PhaseGroup, storage.PhaseVote, storage.PhaseDiscuss, storage.PhaseAct:
		return true
	}
	return false
}
