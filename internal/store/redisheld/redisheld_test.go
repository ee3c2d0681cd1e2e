package redisheld

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	addr := os.Getenv("RETAILPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set RETAILPOS_TEST_REDIS_ADDR to run redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	tenantID := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = client.Del(context.Background(), indexKey(tenantID)).Err() })
	return New(client, zap.NewNop()), tenantID
}

func heldOrder(tenantID string, registerID string, at time.Time) domain.HeldOrder {
	return domain.HeldOrder{
		TenantID:   tenantID,
		RegisterID: registerID,
		CashierID:  "cashier",
		Items:      []domain.CartLineItem{{ProductID: "p1", Name: "Widget", UnitPriceCents: 1000, Quantity: decimal.NewFromInt(2)}},
		Discount:   &domain.Discount{Type: domain.DiscountFixed, Value: decimal.NewFromInt(100)},
		HeldAt:     at,
	}
}

func TestPopIsExactlyOnceAcrossClients(t *testing.T) {
	s, tenantID := newTestStore(t)
	ctx := context.Background()

	held, err := s.CreateHeldOrder(ctx, heldOrder(tenantID, "r1", time.Now().UTC()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.PopHeldOrder(ctx, tenantID, held.ID)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				assert.Equal(t, held.ID, got.ID)
				return
			}
			assert.ErrorIs(t, err, store.ErrNotFound)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestListNewestFirstFilteredByRegister(t *testing.T) {
	s, tenantID := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	first, err := s.CreateHeldOrder(ctx, heldOrder(tenantID, "r1", base))
	require.NoError(t, err)
	_, err = s.CreateHeldOrder(ctx, heldOrder(tenantID, "r2", base.Add(time.Second)))
	require.NoError(t, err)
	third, err := s.CreateHeldOrder(ctx, heldOrder(tenantID, "r1", base.Add(2*time.Second)))
	require.NoError(t, err)

	r1, err := s.ListHeldOrders(ctx, tenantID, "r1", 0)
	require.NoError(t, err)
	require.Len(t, r1, 2)
	assert.Equal(t, third.ID, r1[0].ID)
	assert.Equal(t, first.ID, r1[1].ID)

	require.NoError(t, s.DeleteHeldOrder(ctx, tenantID, first.ID))
	assert.ErrorIs(t, s.DeleteHeldOrder(ctx, tenantID, first.ID), store.ErrNotFound)

	all, err := s.ListHeldOrders(ctx, tenantID, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	for _, h := range all {
		_ = s.DeleteHeldOrder(ctx, tenantID, h.ID)
	}
}

func TestCreateRejectsEmptyOrder(t *testing.T) {
	s := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), nil)
	_, err := s.CreateHeldOrder(context.Background(), domain.HeldOrder{TenantID: "t1", RegisterID: "r1"})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

// scriptedHook answers commands without a server: handlers keyed by command
// name run in place of the network round trip.
type scriptedHook map[string]func(cmd redis.Cmder)

func (h scriptedHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("no server in this test")
	}
}

func (h scriptedHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		handle, ok := h[cmd.Name()]
		if !ok {
			return fmt.Errorf("unexpected command %s", cmd.Name())
		}
		handle(cmd)
		return cmd.Err()
	}
}

func (h scriptedHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func scriptedStore(t *testing.T, hook scriptedHook) (*Store, *observer.ObservedLogs) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(hook)
	t.Cleanup(func() { _ = client.Close() })
	core, logs := observer.New(zap.WarnLevel)
	return New(client, zap.New(core)), logs
}

func TestPopReturnsOrderWhenIndexCleanupFails(t *testing.T) {
	held := heldOrder("t1", "r1", time.Now().UTC())
	held.ID = "hold-1"
	payload, err := json.Marshal(held)
	require.NoError(t, err)

	s, logs := scriptedStore(t, scriptedHook{
		"getdel": func(cmd redis.Cmder) { cmd.(*redis.StringCmd).SetVal(string(payload)) },
		"zrem":   func(cmd redis.Cmder) { cmd.SetErr(errors.New("READONLY replica")) },
	})

	got, err := s.PopHeldOrder(context.Background(), "t1", "hold-1")
	require.NoError(t, err)
	assert.Equal(t, "hold-1", got.ID)
	assert.Equal(t, "r1", got.RegisterID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 1, logs.FilterMessage("held order index cleanup failed").Len())
}

func TestPopMissingOrderIsNotFound(t *testing.T) {
	s, _ := scriptedStore(t, scriptedHook{
		"getdel": func(cmd redis.Cmder) { cmd.SetErr(redis.Nil) },
	})

	_, err := s.PopHeldOrder(context.Background(), "t1", "hold-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteSucceedsWhenIndexCleanupFails(t *testing.T) {
	s, logs := scriptedStore(t, scriptedHook{
		"del":  func(cmd redis.Cmder) { cmd.(*redis.IntCmd).SetVal(1) },
		"zrem": func(cmd redis.Cmder) { cmd.SetErr(errors.New("READONLY replica")) },
	})

	require.NoError(t, s.DeleteHeldOrder(context.Background(), "t1", "hold-1"))
	assert.Equal(t, 1, logs.Len())
}
