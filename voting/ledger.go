// Package voting implements the vote ledger: per-item vote counts per user,
// the per-item aggregate, and the board-wide per-user counter that enforces
// the vote cap.
package voting

import (
	"context"
	"errors"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/storage"
)

var ErrVoteCapReached = errors.New("user has no votes left on this board")
var ErrNoVotesToRemove = errors.New("user has no votes to remove from this item")

// Direction of a vote adjustment.
type Direction int

const (
	Increment Direction = iota
	Decrement
)

// Ledger adjusts vote counters across an item document and its board
// document. The two writes are not atomic: the item is written first, and if
// the board write fails the item adjustment is reversed with a best-effort
// compensating write before the error is reported.
type Ledger struct {
	items  storage.FeedbackItemStorage
	boards storage.FeedbackBoardStorage
}

func NewLedger(items storage.FeedbackItemStorage, boards storage.FeedbackBoardStorage) *Ledger {
	return &Ledger{items: items, boards: boards}
}

// CastVote adds or removes one vote by user on the item. Increment requires
// headroom under the board's MaxVotesPerUser; Decrement requires the user to
// have at least one vote on this item. Returns the updated item and board.
func (l *Ledger) CastVote(ctx context.Context, teamID, boardID, itemID, user string, dir Direction) (*storage.FeedbackItem, *storage.FeedbackBoard, error) {
	board, err := l.boards.Get(ctx, teamID, boardID)
	if err != nil {
		return nil, nil, err
	}
	item, err := l.items.Get(ctx, boardID, itemID)
	if err != nil {
		return nil, nil, err
	}

	delta := 1
	if dir == Decrement {
		delta = -1
		if board.VotesFor(user) <= 0 || item.VotesFor(user) <= 0 || item.Upvotes <= 0 {
			return nil, nil, ErrNoVotesToRemove
		}
	} else if board.VotesFor(user) >= board.MaxVotesPerUser {
		return nil, nil, ErrVoteCapReached
	}

	if item.VoteCollection == nil {
		item.VoteCollection = make(map[string]int)
	}
	item.VoteCollection[user] += delta
	item.Upvotes += delta
	if err := l.items.Update(ctx, item); err != nil {
		return nil, nil, err
	}

	if board.BoardVoteCollection == nil {
		board.BoardVoteCollection = make(map[string]int)
	}
	board.BoardVoteCollection[user] += delta
	if err := l.boards.Update(ctx, board); err != nil {
		// Compensate the item-side adjustment so the aggregate invariant
		// holds even though the board write was lost.
		item.VoteCollection[user] -= delta
		item.Upvotes -= delta
		if rbErr := l.items.Update(ctx, item); rbErr != nil {
			logging.Log.Errorf("VOTE: failed to roll back item %s after board write failure: %v", itemID, rbErr)
		}
		return nil, nil, err
	}

	return item, board, nil
}
