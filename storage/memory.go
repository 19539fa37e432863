package storage

import (
	"context"
	"sync"
)

// MemoryFeedbackItemStorage is an in-memory FeedbackItemStorage used in
// tests. It mirrors the Dynamo implementation's behavior, including the
// revision check on Update, so engine code exercises the same failure paths.
type MemoryFeedbackItemStorage struct {
	mu    sync.Mutex
	items map[string]map[string]*FeedbackItem

	// FailUpdateFor, when set, makes Update on that item id fail with
	// ErrConflict. Used to drive partial-write scenarios in tests.
	FailUpdateFor string
}

func NewMemoryFeedbackItemStorage() *MemoryFeedbackItemStorage {
	return &MemoryFeedbackItemStorage{items: make(map[string]map[string]*FeedbackItem)}
}

func (s *MemoryFeedbackItemStorage) Create(ctx context.Context, item *FeedbackItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	board := s.items[item.BoardID]
	if board == nil {
		board = make(map[string]*FeedbackItem)
		s.items[item.BoardID] = board
	}
	if _, ok := board[item.ID]; ok {
		return ErrAlreadyExists
	}
	item.Rev = 1
	board[item.ID] = cloneItem(item)
	return nil
}

func (s *MemoryFeedbackItemStorage) Get(ctx context.Context, boardID, itemID string) (*FeedbackItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[boardID][itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *MemoryFeedbackItemStorage) GetAll(ctx context.Context, boardID string) ([]*FeedbackItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.items[boardID]
	if !ok || len(board) == 0 {
		return nil, ErrCollectionMissing
	}
	items := make([]*FeedbackItem, 0, len(board))
	for _, item := range board {
		items = append(items, cloneItem(item))
	}
	return items, nil
}

func (s *MemoryFeedbackItemStorage) Update(ctx context.Context, item *FeedbackItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == s.FailUpdateFor {
		return ErrConflict
	}
	stored, ok := s.items[item.BoardID][item.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Rev != item.Rev {
		return ErrConflict
	}
	item.Rev++
	s.items[item.BoardID][item.ID] = cloneItem(item)
	return nil
}

func (s *MemoryFeedbackItemStorage) Delete(ctx context.Context, boardID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items[boardID], itemID)
	return nil
}

// MemoryFeedbackBoardStorage is the in-memory FeedbackBoardStorage
// counterpart for tests.
type MemoryFeedbackBoardStorage struct {
	mu     sync.Mutex
	boards map[string]map[string]*FeedbackBoard

	FailUpdateFor string
}

func NewMemoryFeedbackBoardStorage() *MemoryFeedbackBoardStorage {
	return &MemoryFeedbackBoardStorage{boards: make(map[string]map[string]*FeedbackBoard)}
}

func (s *MemoryFeedbackBoardStorage) Create(ctx context.Context, board *FeedbackBoard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	team := s.boards[board.TeamID]
	if team == nil {
		team = make(map[string]*FeedbackBoard)
		s.boards[board.TeamID] = team
	}
	if _, ok := team[board.ID]; ok {
		return ErrAlreadyExists
	}
	board.Rev = 1
	team[board.ID] = cloneBoard(board)
	return nil
}

func (s *MemoryFeedbackBoardStorage) Get(ctx context.Context, teamID, boardID string) (*FeedbackBoard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[teamID][boardID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBoard(board), nil
}

func (s *MemoryFeedbackBoardStorage) GetAll(ctx context.Context, teamID string) ([]*FeedbackBoard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	team, ok := s.boards[teamID]
	if !ok || len(team) == 0 {
		return nil, ErrCollectionMissing
	}
	boards := make([]*FeedbackBoard, 0, len(team))
	for _, board := range team {
		boards = append(boards, cloneBoard(board))
	}
	return boards, nil
}

func (s *MemoryFeedbackBoardStorage) Update(ctx context.Context, board *FeedbackBoard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if board.ID == s.FailUpdateFor {
		return ErrConflict
	}
	stored, ok := s.boards[board.TeamID][board.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Rev != board.Rev {
		return ErrConflict
	}
	board.Rev++
	s.boards[board.TeamID][board.ID] = cloneBoard(board)
	return nil
}

func (s *MemoryFeedbackBoardStorage) Delete(ctx context.Context, teamID, boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.boards[teamID], boardID)
	return nil
}

func cloneItem(item *FeedbackItem) *FeedbackItem {
	c := *item
	c.ChildIDs = append([]string(nil), item.ChildIDs...)
	if item.VoteCollection != nil {
		c.VoteCollection = make(map[string]int, len(item.VoteCollection))
		for k, v := range item.VoteCollection {
			c.VoteCollection[k] = v
		}
	}
	return &c
}

func cloneBoard(board *FeedbackBoard) *FeedbackBoard {
	c := *board
	c.Columns = append([]Column(nil), board.Columns...)
	if board.BoardVoteCollection != nil {
		c.BoardVoteCollection = make(map[string]int, len(board.BoardVoteCollection))
		for k, v := range board.BoardVoteCollection {
			c.BoardVoteCollection[k] = v
		}
	}
	return &c
}
