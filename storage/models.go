package storage

import "time"

// Column describes one lane of a board. The set of column IDs on a board
// defines the valid values for FeedbackItem.ColumnID.
type Column struct {
	ID          string `dynamodbav:"ID" json:"id"`
	Title       string `dynamodbav:"Title" json:"title"`
	IconName    string `dynamodbav:"IconName" json:"iconName"`
	AccentColor string `dynamodbav:"AccentColor" json:"accentColor"`
}

// Workflow phases, in order. A board is in exactly one phase at a time and
// the phase gates which mutations are legal.
const (
	PhaseCollect = "Collect"
	PhaseGroup   = "Group"
	PhaseVote    = "Vote"
	PhaseDiscuss = "Discuss"
	PhaseAct     = "Act"
)

// FeedbackBoard is one board document. Boards for a team live in the same
// partition (PK = TeamID) so GetAll is a single query.
type FeedbackBoard struct {
	TeamID                         string         `dynamodbav:"PK" json:"teamId"`
	ID                             string         `dynamodbav:"SK" json:"id"`
	Title                          string         `dynamodbav:"Title" json:"title"`
	Columns                        []Column       `dynamodbav:"Columns" json:"columns"`
	MaxVotesPerUser                int            `dynamodbav:"MaxVotesPerUser" json:"maxVotesPerUser"`
	BoardVoteCollection            map[string]int `dynamodbav:"BoardVoteCollection" json:"boardVoteCollection"`
	ActivePhase                    string         `dynamodbav:"ActivePhase" json:"activePhase"`
	CreatedBy                      string         `dynamodbav:"CreatedBy" json:"createdBy"`
	CreatedAt                      time.Time      `dynamodbav:"CreatedAt" json:"createdAt"`
	IsAnonymous                    bool           `dynamodbav:"IsAnonymous" json:"isAnonymous"`
	ShouldShowFeedbackAfterCollect bool           `dynamodbav:"ShouldShowFeedbackAfterCollect" json:"shouldShowFeedbackAfterCollect"`
	Rev                            int            `dynamodbav:"Rev" json:"-"`
}

// FeedbackItem is one feedback note. Items for a board live in the same
// partition (PK = BoardID). ParentID and ChildIDs are kept symmetric by the
// grouping engine; there are never object references between items, only ids.
type FeedbackItem struct {
	BoardID        string         `dynamodbav:"PK" json:"boardId"`
	ID             string         `dynamodbav:"SK" json:"id"`
	ColumnID       string         `dynamodbav:"ColumnID" json:"columnId"`
	Title          string         `dynamodbav:"Title" json:"title"`
	Description    string         `dynamodbav:"Description" json:"description"`
	CreatedBy      string         `dynamodbav:"CreatedBy" json:"createdBy"`
	CreatedAt      time.Time      `dynamodbav:"CreatedAt" json:"createdAt"`
	ParentID       string         `dynamodbav:"ParentID" json:"parentId"`
	ChildIDs       []string       `dynamodbav:"ChildIDs" json:"childIds"`
	VoteCollection map[string]int `dynamodbav:"VoteCollection" json:"voteCollection"`
	Upvotes        int            `dynamodbav:"Upvotes" json:"upvotes"`
	TimerSecs      int            `dynamodbav:"TimerSecs" json:"timerSecs"`
	TimerRunning   bool           `dynamodbav:"TimerRunning" json:"timerRunning"`
	TimerID        string         `dynamodbav:"TimerID" json:"timerId"`
	Rev            int            `dynamodbav:"Rev" json:"-"`
}

// VotesFor returns the number of votes user has cast on the item.
func (i *FeedbackItem) VotesFor(user string) int {
	if i.VoteCollection == nil {
		return 0
	}
	return i.VoteCollection[user]
}

// VotesFor returns the user's total votes across the whole board.
func (b *FeedbackBoard) VotesFor(user string) int {
	if b.BoardVoteCollection == nil {
		return 0
	}
	return b.BoardVoteCollection[user]
}

// HasColumn reports whether id is one of the board's columns.
func (b *FeedbackBoard) HasColumn(id string) bool {
	for _, c := range b.Columns {
		if c.ID == id {
			return true
		}
	}
	return false
}
