package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"trading-signalsv1/internal/model"
)

// DefaultControlKey holds the JSON-encoded model.BotStatus.
const DefaultControlKey = "signals:control_state"

// ControlStore persists operator control state. It implements
// model.ControlStore.
type ControlStore struct {
	rdb goredis.Cmdable
	key string
}

// NewControlStore creates a store writing to key (DefaultControlKey when empty).
func NewControlStore(rdb goredis.Cmdable, key string) *ControlStore {
	if key == "" {
		key = DefaultControlKey
	}
	return &ControlStore{rdb: rdb, key: key}
}

// Save stores st without expiry.
func (s *ControlStore) Save(ctx context.Context, st model.BotStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal control state: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.key, err)
	}
	return nil
}

// Load returns the stored state; ok is false when the key is absent.
func (s *ControlStore) Load(ctx context.Context) (model.BotStatus, bool, error) {
	var st model.BotStatus
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return st, false, nil
		}
		return st, false, fmt.Errorf("redis GET %s: %w", s.key, err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, false, fmt.Errorf("decode control state: %w", err)
	}
	return st, true, nil
}
