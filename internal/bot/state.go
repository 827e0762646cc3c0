package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"groupkeeper-bot/pkg/redis"
)

// KV is the key/value store dialog state lives in. Both redis.Client and
// redis.Memory satisfy it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// DialogState is the per-chat conversation step plus free-form values.
type DialogState struct {
	Step string            `json:"step"`
	Data map[string]string `json:"data,omitempty"`
}

type StateStorage struct {
	kv  KV
	ttl time.Duration
}

func NewStateStorage(kv KV, ttl time.Duration) *StateStorage {
	return &StateStorage{kv: kv, ttl: ttl}
}

func getStateKey(chatID int64) string {
	return fmt.Sprintf("state:%d", chatID)
}

func (s *StateStorage) Save(ctx context.Context, chatID int64, state DialogState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.kv.Set(ctx, getStateKey(chatID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Get returns the stored state, or an empty one when the chat has none.
func (s *StateStorage) Get(ctx context.Context, chatID int64) (DialogState, error) {
	data, err := s.kv.Get(ctx, getStateKey(chatID))
	if errors.Is(err, redis.ErrNotFound) {
		return DialogState{}, nil
	}
	if err != nil {
		return DialogState{}, fmt.Errorf("failed to get state: %w", err)
	}

	var state DialogState
	if err := json.Unmarshal(data, &state); err != nil {
		return DialogState{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, nil
}

func (s *StateStorage) SetStep(ctx context.Context, chatID int64, step string) error {
	state, err := s.Get(ctx, chatID)
	if err != nil {
		state = DialogState{}
	}
	state.Step = step
	return s.Save(ctx, chatID, state)
}

func (s *StateStorage) SetValue(ctx context.Context, chatID int64, key, value string) error {
	state, err := s.Get(ctx, chatID)
	if err != nil {
		state = DialogState{}
	}
	if state.Data == nil {
		state.Data = make(map[string]string)
	}
	state.Data[key] = value
	return s.Save(ctx, chatID, state)
}

func (s *StateStorage) Clear(ctx context.Context, chatID int64) error {
	if err := s.kv.Del(ctx, getStateKey(chatID)); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}
