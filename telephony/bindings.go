package telephony

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const bindingsKey = "number_bindings"

// Binding routes a purchased number to a tenant and agent.
type Binding struct {
	PhoneNumber string    `json:"phoneNumber"`
	NumberSID   string    `json:"numberSid"`
	Username    string    `json:"username"`
	AgentID     string    `json:"agentId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BindingStore keeps bindings in a Redis hash keyed by phone number.
type BindingStore struct {
	redis *redis.Client
}

func NewBindingStore(rdb *redis.Client) *BindingStore {
	return &BindingStore{redis: rdb}
}

func (s *BindingStore) Save(ctx context.Context, b Binding) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode binding: %w", err)
	}
	if err := s.redis.HSet(ctx, bindingsKey, b.PhoneNumber, data).Err(); err != nil {
		return fmt.Errorf("failed to save binding: %w", err)
	}
	return nil
}

// List returns every binding, oldest first. Corrupt entries are skipped.
func (s *BindingStore) List(ctx context.Context) ([]Binding, error) {
	all, err := s.redis.HGetAll(ctx, bindingsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}

	out := make([]Binding, 0, len(all))
	for _, raw := range all {
		var b Binding
		if err := json.UnmarshalFromString(raw, &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PhoneNumber < out[j].PhoneNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
