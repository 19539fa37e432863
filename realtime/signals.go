package realtime

// Signal names carried in the envelope. Signals never carry document
// payloads, only identifiers; receivers re-fetch through storage before
// rendering.
const (
	SignalJoinBoardGroup  = "join-board-group"
	SignalLeaveBoardGroup = "leave-board-group"

	SignalNewItem     = "receive-new-item"
	SignalUpdatedItem = "receive-updated-item"
	SignalDeletedItem = "receive-deleted-item"

	SignalNewBoard     = "receive-new-board"
	SignalUpdatedBoard = "receive-updated-board"
	SignalDeletedBoard = "receive-deleted-board"
)

// envelope is the wire format published to a board group channel.
type envelope struct {
	Signal   string `json:"signal"`
	Sender   string `json:"sender"`
	Bearer   string `json:"bearer,omitempty"`
	TeamID   string `json:"teamId,omitempty"`
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId,omitempty"`
	ItemID   string `json:"itemId,omitempty"`
}

func boardChannel(boardID string) string {
	return "retro:board:" + boardID
}

// control channel carrying join/leave membership signals for the hub side.
const hubChannel = "retro:hub"
