package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTaskNotFound - replay 할 이벤트가 없음
var ErrTaskNotFound = errors.New("task events not found")

func eventsKey(taskID string) string { return "task:" + taskID + ":events" }

func seqKey(taskID string) string { return "task:" + taskID + ":seq" }

func ownerKey(taskID string) string { return "task:" + taskID + ":owner" }

func channelName(taskID string) string { return "task:" + taskID + ":channel" }

// RedisSink stores every event in a per-task list and publishes it on a
// per-task channel so a reconnecting client can replay and follow.
type RedisSink struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSink(rdb *redis.Client, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSink{rdb: rdb, ttl: ttl}
}

func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	if ev.TaskID == "" {
		return fmt.Errorf("event without task id")
	}
	seq, err := s.rdb.Incr(ctx, seqKey(ev.TaskID)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate event seq: %w", err)
	}
	ev.Seq = seq

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	if ev.UserID != "" {
		pipe.SetNX(ctx, ownerKey(ev.TaskID), ev.UserID, s.ttl)
	}
	pipe.RPush(ctx, eventsKey(ev.TaskID), data)
	pipe.Expire(ctx, eventsKey(ev.TaskID), s.ttl)
	pipe.Expire(ctx, seqKey(ev.TaskID), s.ttl)
	pipe.Publish(ctx, channelName(ev.TaskID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// Owner returns the user id that produced the task's events.
func (s *RedisSink) Owner(ctx context.Context, taskID string) (string, error) {
	owner, err := s.rdb.Get(ctx, ownerKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTaskNotFound
	}
	return owner, err
}

// Replay sends the stored events, then follows live ones until a terminal
// event or ctx is done.
func (s *RedisSink) Replay(ctx context.Context, taskID string, fn func(Event) error) error {
	sub := s.rdb.Subscribe(ctx, channelName(taskID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	live := sub.Channel()

	stored, err := s.rdb.LRange(ctx, eventsKey(taskID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read stored events: %w", err)
	}

	seen := make(map[int64]bool, len(stored))
	emit := func(raw string) (bool, error) {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return false, nil
		}
		if seen[ev.Seq] {
			return false, nil
		}
		seen[ev.Seq] = true
		if err := fn(ev); err != nil {
			return false, err
		}
		return ev.Type.Terminal(), nil
	}

	for _, raw := range stored {
		done, err := emit(raw)
		if err != nil || done {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-live:
			if !ok {
				return nil
			}
			done, err := emit(msg.Payload)
			if err != nil || done {
				return err
			}
		}
	}
}
