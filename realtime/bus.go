// Package realtime is the sync bus keeping sessions that view the same board
// eventually consistent. It holds a single logical connection to the
// broadcast hub (Redis pub/sub), tracks membership in at most one board
// group at a time, and delivers identifier-only signals to registered
// handlers. Outbound signals are fire-and-forget: while the bus is
// disconnected they are silently dropped, never queued.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/auth"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
)

// State of the bus connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

var ErrAlreadyStarted = errors.New("bus is already started")

// DefaultReconnectDelay is the fixed delay before the single reconnect
// attempt scheduled after a transport-level drop.
const DefaultReconnectDelay = 2 * time.Second

// ItemHandler receives item signals. BoardHandler receives board signals.
type ItemHandler func(columnID, itemID string)
type BoardHandler func(teamID, boardID string)

// Subscription is the token returned when a handler is registered.
// Cancel deregisters exactly that handler.
type Subscription struct {
	cancel func()
	once   sync.Once
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Bus is the realtime sync bus. Construct with NewBus and share the single
// instance across the session.
type Bus struct {
	rdb    redis.UniversalClient
	tokens auth.TokenSource
	connID string
	delay  time.Duration

	mu            sync.Mutex
	state         State
	pubsub        *redis.PubSub
	currentBoard  string
	bearer        string
	stopping      bool
	nextSub       int
	itemHandlers  map[string]map[int]ItemHandler
	boardHandlers map[string]map[int]BoardHandler
	reconnects    map[int]func()
}

func NewBus(rdb redis.UniversalClient, tokens auth.TokenSource) *Bus {
	return &Bus{
		rdb:           rdb,
		tokens:        tokens,
		connID:        gonanoid.Must(),
		delay:         DefaultReconnectDelay,
		itemHandlers:  make(map[string]map[int]ItemHandler),
		boardHandlers: make(map[string]map[int]BoardHandler),
		reconnects:    make(map[int]func()),
	}
}

// SetReconnectDelay overrides the fixed reconnect delay. Tests use this to
// avoid waiting out the default two seconds.
func (b *Bus) SetReconnectDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// State returns the current connection state.
func (b *Bus) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start opens the connection. A failed start leaves the bus Disconnected
// and does not schedule a retry; that is the caller's decision.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Disconnected {
		return ErrAlreadyStarted
	}
	b.stopping = false
	return b.connectLocked(ctx)
}

// connectLocked performs one connection attempt. Callers hold b.mu.
func (b *Bus) connectLocked(ctx context.Context) error {
	b.state = Connecting

	// The bearer is re-acquired through the token source on every attempt;
	// the source caches it until its embedded expiry.
	bearer, err := b.tokens.Token(ctx)
	if err != nil {
		logging.Log.Errorf("BUS: could not acquire hub token: %v", err)
		b.state = Disconnected
		return err
	}

	if err := b.rdb.Ping(ctx).Err(); err != nil {
		logging.Log.Errorf("BUS: hub unreachable: %v", err)
		b.state = Disconnected
		return err
	}

	pubsub := b.rdb.Subscribe(ctx)
	b.pubsub = pubsub
	b.bearer = bearer
	b.currentBoard = ""
	b.state = Connected

	go b.readLoop(pubsub)
	return nil
}

func (b *Bus) readLoop(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		b.dispatch(msg.Payload)
	}

	b.mu.Lock()
	deliberate := b.stopping || b.pubsub != pubsub
	b.mu.Unlock()
	if !deliberate {
		b.connectionLost()
	}
}

// Stop closes the connection. The bus can be started again afterwards.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopping = true
	b.state = Disconnected
	b.currentBoard = ""
	if b.pubsub != nil {
		_ = b.pubsub.Close()
		b.pubsub = nil
	}
}

// connectionLost marks the bus Disconnected and schedules exactly one
// reconnect attempt after the fixed delay. Board group membership is not
// restored automatically; reconnect handlers re-assert it upstream.
func (b *Bus) connectionLost() {
	b.mu.Lock()
	if b.state != Connected {
		b.mu.Unlock()
		return
	}
	logging.Log.Warn("BUS: connection lost, reconnecting in a moment")
	b.state = Disconnected
	b.currentBoard = ""
	if b.pubsub != nil {
		_ = b.pubsub.Close()
		b.pubsub = nil
	}
	delay := b.delay
	b.mu.Unlock()

	time.AfterFunc(delay, b.retry)
}

func (b *Bus) retry() {
	b.mu.Lock()
	if b.state != Disconnected || b.stopping {
		b.mu.Unlock()
		return
	}
	err := b.connectLocked(context.Background())
	var handlers []func()
	if err == nil {
		for _, h := range b.reconnects {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	if err != nil {
		logging.Log.Errorf("BUS: reconnect attempt failed: %v", err)
		return
	}
	for _, h := range handlers {
		go h()
	}
}

// SwitchToBoard leaves the previous board group (if any) and joins the new
// one (if non-empty), as two independent fire-and-forget signals. While
// Disconnected the request is silently dropped.
func (b *Bus) SwitchToBoard(ctx context.Context, boardID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Connected {
		return
	}

	if b.currentBoard != "" {
		if err := b.pubsub.Unsubscribe(ctx, boardChannel(b.currentBoard)); err != nil {
			logging.Log.Errorf("BUS: failed to leave board group %s: %v", b.currentBoard, err)
		}
		b.publishLocked(ctx, hubChannel, envelope{
			Signal:  SignalLeaveBoardGroup,
			Sender:  b.connID,
			Bearer:  b.bearer,
			BoardID: b.currentBoard,
		})
		b.currentBoard = ""
	}

	// A failed publish above tears the connection down; the join then
	// follows the disconnected no-op rule.
	if b.state != Connected || b.pubsub == nil {
		return
	}

	if boardID != "" {
		if err := b.pubsub.Subscribe(ctx, boardChannel(boardID)); err != nil {
			logging.Log.Errorf("BUS: failed to join board group %s: %v", boardID, err)
			return
		}
		b.publishLocked(ctx, hubChannel, envelope{
			Signal:  SignalJoinBoardGroup,
			Sender:  b.connID,
			Bearer:  b.bearer,
			BoardID: boardID,
		})
		if b.state == Connected {
			b.currentBoard = boardID
		}
	}
}

// CurrentBoard returns the board group the bus currently belongs to.
func (b *Bus) CurrentBoard() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentBoard
}

func (b *Bus) BroadcastNewItem(ctx context.Context, boardID, columnID, itemID string) {
	b.broadcastItem(ctx, SignalNewItem, boardID, columnID, itemID)
}

func (b *Bus) BroadcastUpdatedItem(ctx context.Context, boardID, columnID, itemID string) {
	b.broadcastItem(ctx, SignalUpdatedItem, boardID, columnID, itemID)
}

func (b *Bus) BroadcastDeletedItem(ctx context.Context, boardID, columnID, itemID string) {
	b.broadcastItem(ctx, SignalDeletedItem, boardID, columnID, itemID)
}

func (b *Bus) BroadcastNewBoard(ctx context.Context, teamID, boardID string) {
	b.broadcastBoard(ctx, SignalNewBoard, teamID, boardID)
}

func (b *Bus) BroadcastUpdatedBoard(ctx context.Context, teamID, boardID string) {
	b.broadcastBoard(ctx, SignalUpdatedBoard, teamID, boardID)
}

func (b *Bus) BroadcastDeletedBoard(ctx context.Context, teamID, boardID string) {
	b.broadcastBoard(ctx, SignalDeletedBoard, teamID, boardID)
}

func (b *Bus) broadcastItem(ctx context.Context, signal, boardID, columnID, itemID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Connected {
		return
	}
	b.publishLocked(ctx, boardChannel(boardID), envelope{
		Signal:   signal,
		Sender:   b.connID,
		BoardID:  boardID,
		ColumnID: columnID,
		ItemID:   itemID,
	})
}

func (b *Bus) broadcastBoard(ctx context.Context, signal, teamID, boardID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Connected {
		return
	}
	b.publishLocked(ctx, boardChannel(boardID), envelope{
		Signal:  signal,
		Sender:  b.connID,
		TeamID:  teamID,
		BoardID: boardID,
	})
}

// publishLocked publishes fire-and-forget; a failed publish is treated as a
// transport drop. Callers hold b.mu.
func (b *Bus) publishLocked(ctx context.Context, channel string, env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		logging.Log.Errorf("BUS: failed to marshal %s signal: %v", env.Signal, err)
		return
	}
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		logging.Log.Errorf("BUS: failed to publish %s signal: %v", env.Signal, err)
		if b.state == Connected {
			b.state = Disconnected
			b.currentBoard = ""
			if b.pubsub != nil {
				_ = b.pubsub.Close()
				b.pubsub = nil
			}
			time.AfterFunc(b.delay, b.retry)
		}
	}
}

// OnItemReceived registers a handler for one of the item signals. The
// returned Subscription cancels exactly this registration.
func (b *Bus) OnItemReceived(signal string, h ItemHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	if b.itemHandlers[signal] == nil {
		b.itemHandlers[signal] = make(map[int]ItemHandler)
	}
	b.itemHandlers[signal][id] = h

	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.itemHandlers[signal], id)
	}}
}

// OnBoardReceived registers a handler for one of the board signals.
func (b *Bus) OnBoardReceived(signal string, h BoardHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	if b.boardHandlers[signal] == nil {
		b.boardHandlers[signal] = make(map[int]BoardHandler)
	}
	b.boardHandlers[signal][id] = h

	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.boardHandlers[signal], id)
	}}
}

// OnReconnected registers a handler fired after a successful automatic
// reconnect. Group membership is not restored by the bus itself, so this is
// where upstream re-invokes SwitchToBoard.
func (b *Bus) OnReconnected(h func()) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.reconnects[id] = h

	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.reconnects, id)
	}}
}

func (b *Bus) dispatch(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logging.Log.Errorf("BUS: failed to unmarshal signal: %v", err)
		return
	}
	if env.Sender == b.connID {
		return
	}

	b.mu.Lock()
	var itemHs []ItemHandler
	for _, h := range b.itemHandlers[env.Signal] {
		itemHs = append(itemHs, h)
	}
	var boardHs []BoardHandler
	for _, h := range b.boardHandlers[env.Signal] {
		boardHs = append(boardHs, h)
	}
	b.mu.Unlock()

	for _, h := range itemHs {
		h(env.ColumnID, env.ItemID)
	}
	for _, h := range boardHs {
		h(env.TeamID, env.BoardID)
	}
}
