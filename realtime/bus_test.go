package realtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/auth"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
)

var testSecret = []byte("bus-test-secret")

func testTokens() auth.TokenSource {
	return auth.TokenSourceFunc(func(ctx context.Context) (string, error) {
		return auth.IssueToken(testSecret, auth.Claims{
			Sub: "session",
			Exp: time.Now().Add(time.Hour).Unix(),
		})
	})
}

func setupBus(t *testing.T, mr *miniredis.Miniredis) *Bus {
	t.Helper()
	logging.Log = logrus.New()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	bus := NewBus(rdb, testTokens())
	bus.SetReconnectDelay(20 * time.Millisecond)
	return bus
}

func TestBusStart(t *testing.T) {
	t.Run("start connects", func(t *testing.T) {
		mr := miniredis.RunT(t)
		bus := setupBus(t, mr)

		require.NoError(t, bus.Start(context.Background()))
		defer bus.Stop()
		assert.Equal(t, Connected, bus.State())
	})

	t.Run("start against a dead hub stays disconnected", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		logging.Log = logrus.New()
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()

		bus := NewBus(rdb, testTokens())
		err := bus.Start(context.Background())
		assert.Error(t, err)
		assert.Equal(t, Disconnected, bus.State())
	})

	t.Run("double start is rejected", func(t *testing.T) {
		mr := miniredis.RunT(t)
		bus := setupBus(t, mr)

		require.NoError(t, bus.Start(context.Background()))
		defer bus.Stop()
		assert.ErrorIs(t, bus.Start(context.Background()), ErrAlreadyStarted)
	})
}

func TestBusBroadcast(t *testing.T) {
	ctx := context.Background()

	t.Run("peers in the same board group receive item signals", func(t *testing.T) {
		mr := miniredis.RunT(t)
		sender := setupBus(t, mr)
		receiver := setupBus(t, mr)

		require.NoError(t, sender.Start(ctx))
		defer sender.Stop()
		require.NoError(t, receiver.Start(ctx))
		defer receiver.Stop()

		var got atomic.Value
		receiver.OnItemReceived(SignalNewItem, func(columnID, itemID string) {
			got.Store(columnID + "/" + itemID)
		})

		sender.SwitchToBoard(ctx, "b1")
		receiver.SwitchToBoard(ctx, "b1")

		require.Eventually(t, func() bool {
			sender.BroadcastNewItem(ctx, "b1", "col-1", "item-1")
			return got.Load() == "col-1/item-1"
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("own signals are not delivered back to the sender", func(t *testing.T) {
		mr := miniredis.RunT(t)
		bus := setupBus(t, mr)

		require.NoError(t, bus.Start(ctx))
		defer bus.Stop()

		var received atomic.Bool
		bus.OnItemReceived(SignalNewItem, func(columnID, itemID string) {
			received.Store(true)
		})

		bus.SwitchToBoard(ctx, "b1")
		bus.BroadcastNewItem(ctx, "b1", "col-1", "item-1")

		time.Sleep(200 * time.Millisecond)
		assert.False(t, received.Load())
	})

	t.Run("broadcast while disconnected is a silent no-op", func(t *testing.T) {
		mr := miniredis.RunT(t)
		sender := setupBus(t, mr)
		receiver := setupBus(t, mr)

		require.NoError(t, receiver.Start(ctx))
		defer receiver.Stop()
		receiver.SwitchToBoard(ctx, "b1")

		var received atomic.Bool
		receiver.OnItemReceived(SignalNewItem, func(columnID, itemID string) {
			received.Store(true)
		})

		// Never started: Disconnected. Nothing is sent and nothing panics.
		sender.BroadcastNewItem(ctx, "b1", "col-1", "item-1")

		time.Sleep(200 * time.Millisecond)
		assert.False(t, received.Load())
	})

	t.Run("board signals reach the board group", func(t *testing.T) {
		mr := miniredis.RunT(t)
		sender := setupBus(t, mr)
		receiver := setupBus(t, mr)

		require.NoError(t, sender.Start(ctx))
		defer sender.Stop()
		require.NoError(t, receiver.Start(ctx))
		defer receiver.Stop()

		var got atomic.Value
		receiver.OnBoardReceived(SignalUpdatedBoard, func(teamID, boardID string) {
			got.Store(teamID + "/" + boardID)
		})

		receiver.SwitchToBoard(ctx, "b1")

		require.Eventually(t, func() bool {
			sender.BroadcastUpdatedBoard(ctx, "t1", "b1")
			return got.Load() == "t1/b1"
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func TestBusGroupSwitching(t *testing.T) {
	ctx := context.Background()

	t.Run("switching boards leaves the old group", func(t *testing.T) {
		mr := miniredis.RunT(t)
		sender := setupBus(t, mr)
		receiver := setupBus(t, mr)

		require.NoError(t, sender.Start(ctx))
		defer sender.Stop()
		require.NoError(t, receiver.Start(ctx))
		defer receiver.Stop()

		var fromB1 atomic.Bool
		var fromB2 atomic.Value
		receiver.OnItemReceived(SignalUpdatedItem, func(columnID, itemID string) {
			if itemID == "from-b1" {
				fromB1.Store(true)
			} else {
				fromB2.Store(itemID)
			}
		})

		receiver.SwitchToBoard(ctx, "b1")
		receiver.SwitchToBoard(ctx, "b2")
		assert.Equal(t, "b2", receiver.CurrentBoard())

		require.Eventually(t, func() bool {
			sender.BroadcastUpdatedItem(ctx, "b1", "c", "from-b1")
			sender.BroadcastUpdatedItem(ctx, "b2", "c", "from-b2")
			return fromB2.Load() == "from-b2"
		}, 2*time.Second, 20*time.Millisecond)

		assert.False(t, fromB1.Load())
	})

	t.Run("switch while disconnected is silently dropped", func(t *testing.T) {
		mr := miniredis.RunT(t)
		bus := setupBus(t, mr)

		bus.SwitchToBoard(ctx, "b1")
		assert.Empty(t, bus.CurrentBoard())
	})

	t.Run("switch survives a transport drop mid-way", func(t *testing.T) {
		mr := miniredis.RunT(t)
		bus := setupBus(t, mr)

		require.NoError(t, bus.Start(ctx))
		bus.SwitchToBoard(ctx, "b1")
		require.Equal(t, "b1", bus.CurrentBoard())
		bus.SetReconnectDelay(time.Minute)

		// The leave-group publish fails against the dead hub; the switch
		// must degrade to a no-op, never claim membership.
		mr.Close()
		assert.NotPanics(t, func() {
			bus.SwitchToBoard(ctx, "b2")
		})
		assert.Equal(t, Disconnected, bus.State())
		assert.Empty(t, bus.CurrentBoard())
	})
}

func TestBusSubscriptions(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled handlers stop receiving", func(t *testing.T) {
		mr := miniredis.RunT(t)
		sender := setupBus(t, mr)
		receiver := setupBus(t, mr)

		require.NoError(t, sender.Start(ctx))
		defer sender.Stop()
		require.NoError(t, receiver.Start(ctx))
		defer receiver.Stop()

		var kept atomic.Int32
		var cancelled atomic.Int32
		receiver.OnItemReceived(SignalNewItem, func(columnID, itemID string) {
			kept.Add(1)
		})
		sub := receiver.OnItemReceived(SignalNewItem, func(columnID, itemID string) {
			cancelled.Add(1)
		})
		sub.Cancel()

		receiver.SwitchToBoard(ctx, "b1")

		require.Eventually(t, func() bool {
			sender.BroadcastNewItem(ctx, "b1", "c", "i")
			return kept.Load() > 0
		}, 2*time.Second, 20*time.Millisecond)

		assert.Equal(t, int32(0), cancelled.Load())
	})
}

func TestBusReconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("transport drop disconnects and schedules a retry", func(t *testing.T) {
		mr := miniredis.RunT(t)
		bus := setupBus(t, mr)

		require.NoError(t, bus.Start(ctx))
		bus.SwitchToBoard(ctx, "b1")

		mr.Close()

		// First failed publish trips the drop handling.
		bus.BroadcastNewItem(ctx, "b1", "c", "i")
		assert.Equal(t, Disconnected, bus.State())
		assert.Empty(t, bus.CurrentBoard())

		// The single scheduled retry fails against the dead hub.
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, Disconnected, bus.State())
	})

	t.Run("successful reconnect fires handlers but does not rejoin", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		bus := setupBus(t, mr)

		require.NoError(t, bus.Start(ctx))
		defer bus.Stop()
		bus.SwitchToBoard(ctx, "b1")

		// Leave enough room to revive the hub before the retry fires.
		bus.SetReconnectDelay(300 * time.Millisecond)

		var reconnected atomic.Bool
		bus.OnReconnected(func() {
			reconnected.Store(true)
		})

		mr.Close()
		bus.BroadcastNewItem(ctx, "b1", "c", "i")
		require.Equal(t, Disconnected, bus.State())

		// Bring the hub back on the same address before the retry fires.
		revived := miniredis.NewMiniRedis()
		require.NoError(t, revived.StartAddr(addr))
		defer revived.Close()

		require.Eventually(t, func() bool {
			return bus.State() == Connected
		}, 2*time.Second, 10*time.Millisecond)

		require.Eventually(t, func() bool {
			return reconnected.Load()
		}, 2*time.Second, 10*time.Millisecond)

		// Membership is re-asserted upstream, never automatically.
		assert.Empty(t, bus.CurrentBoard())
	})
}
