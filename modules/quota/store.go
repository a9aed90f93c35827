package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"brand-camera-server/modules/common/credit"
)

// ErrNoReservation - 정산할 예약이 없음 (이미 정산했거나 만료)
var ErrNoReservation = errors.New("no open reservation for task")

// Store keeps open reservations between reserve and settle.
type Store interface {
	Save(ctx context.Context, r *credit.Reservation) error
	// Peek returns the open reservation without settling it.
	Peek(ctx context.Context, userID, taskID string) (*credit.Reservation, error)
	// Take returns and removes the reservation so it is settled at most once.
	Take(ctx context.Context, userID, taskID string) (*credit.Reservation, error)
}

// MemoryStore - 단일 인스턴스용
type MemoryStore struct {
	mu   sync.Mutex
	open map[string]*credit.Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{open: map[string]*credit.Reservation{}}
}

func storeKey(userID, taskID string) string {
	return fmt.Sprintf("quota:%s:%s", userID, taskID)
}

func (m *MemoryStore) Save(_ context.Context, r *credit.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[storeKey(r.UserID, r.TaskID)] = r
	return nil
}

func (m *MemoryStore) Peek(_ context.Context, userID, taskID string) (*credit.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.open[storeKey(userID, taskID)]
	if !ok {
		return nil, ErrNoReservation
	}
	return r, nil
}

func (m *MemoryStore) Take(_ context.Context, userID, taskID string) (*credit.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := storeKey(userID, taskID)
	r, ok := m.open[k]
	if !ok {
		return nil, ErrNoReservation
	}
	delete(m.open, k)
	return r, nil
}

// RedisStore shares reservations between server instances.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, r *credit.Reservation) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, storeKey(r.UserID, r.TaskID), raw, s.ttl).Err()
}

func (s *RedisStore) Peek(ctx context.Context, userID, taskID string) (*credit.Reservation, error) {
	return decodeReservation(s.rdb.Get(ctx, storeKey(userID, taskID)).Bytes())
}

func (s *RedisStore) Take(ctx context.Context, userID, taskID string) (*credit.Reservation, error) {
	return decodeReservation(s.rdb.GetDel(ctx, storeKey(userID, taskID)).Bytes())
}

func decodeReservation(raw []byte, err error) (*credit.Reservation, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoReservation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	var r credit.Reservation
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode reservation: %w", err)
	}
	return &r, nil
}
