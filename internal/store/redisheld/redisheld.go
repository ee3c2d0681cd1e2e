// Package redisheld keeps held orders in Redis so every register of a tenant
// shares one collection.
package redisheld

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type Store struct {
	client redis.UniversalClient
	log    *zap.Logger
}

func New(client redis.UniversalClient, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, log: log}
}

func orderKey(tenantID string, id string) string {
	return fmt.Sprintf("pos:held:%s:%s", tenantID, id)
}

func indexKey(tenantID string) string {
	return fmt.Sprintf("pos:held:%s:index", tenantID)
}

func (s *Store) CreateHeldOrder(ctx context.Context, held domain.HeldOrder) (*domain.HeldOrder, error) {
	if held.TenantID == "" || held.RegisterID == "" || len(held.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}

	payload, err := json.Marshal(held)
	if err != nil {
		return nil, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, orderKey(held.TenantID, held.ID), payload, 0)
		pipe.ZAdd(ctx, indexKey(held.TenantID), redis.Z{Score: float64(held.HeldAt.UnixMilli()), Member: held.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &held, nil
}

func (s *Store) ListHeldOrders(ctx context.Context, tenantID string, registerID string, limit int) ([]domain.HeldOrder, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey(tenantID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.HeldOrder{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = orderKey(tenantID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]domain.HeldOrder, 0, len(values))
	for _, raw := range values {
		payload, ok := raw.(string)
		if !ok {
			// Popped between ZREVRANGE and MGET.
			continue
		}
		var held domain.HeldOrder
		if err := json.Unmarshal([]byte(payload), &held); err != nil {
			return nil, err
		}
		if registerID != "" && held.RegisterID != registerID {
			continue
		}
		result = append(result, held)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// PopHeldOrder relies on GETDEL: of two concurrent callers only one receives
// the payload. Once it is ours the order is returned even if the index entry
// cannot be removed; listing skips index members without a payload.
func (s *Store) PopHeldOrder(ctx context.Context, tenantID string, heldOrderID string) (*domain.HeldOrder, error) {
	payload, err := s.client.GetDel(ctx, orderKey(tenantID, heldOrderID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.dropIndexEntry(ctx, tenantID, heldOrderID)

	var held domain.HeldOrder
	if err := json.Unmarshal([]byte(payload), &held); err != nil {
		return nil, err
	}
	return &held, nil
}

func (s *Store) DeleteHeldOrder(ctx context.Context, tenantID string, heldOrderID string) error {
	removed, err := s.client.Del(ctx, orderKey(tenantID, heldOrderID)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return store.ErrNotFound
	}
	s.dropIndexEntry(ctx, tenantID, heldOrderID)
	return nil
}

func (s *Store) dropIndexEntry(ctx context.Context, tenantID string, heldOrderID string) {
	if err := s.client.ZRem(ctx, indexKey(tenantID), heldOrderID).Err(); err != nil {
		s.log.Warn("held order index cleanup failed",
			zap.String("tenant_id", tenantID),
			zap.String("held_order_id", heldOrderID),
			zap.Error(err),
		)
	}
}
