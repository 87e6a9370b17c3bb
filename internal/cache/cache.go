package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	conversationTTL = 10 * time.Minute
	userTTL         = time.Hour
	versionTTL      = time.Hour
)

func conversationKey(id string) string { return "conv:" + id }
func versionKey(id string) string      { return "convver:" + id }

type Cache struct {
	Client *redis.Client
}

func New(addr string) *Cache {
	return &Cache{
		Client: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.Client.Close()
}

func (c *Cache) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	val, err := c.Client.Get(ctx, conversationKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Miss
		}
		return nil, err
	}

	var conv domain.Conversation
	if err := json.Unmarshal(val, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ConversationVersion returns the invalidation counter of id. Read it before
// loading the row that will be passed to SetConversation.
func (c *Cache) ConversationVersion(ctx context.Context, id string) (int64, error) {
	v, err := c.Client.Get(ctx, versionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// SetConversation stores conv only if no invalidation happened since version
// was read. It reports whether the entry was written.
func (c *Cache) SetConversation(ctx context.Context, conv *domain.Conversation, version int64) (bool, error) {
	val, err := json.Marshal(conv)
	if err != nil {
		return false, err
	}

	stored := false
	err = c.Client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey(conv.ID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, conversationKey(conv.ID), val, conversationTTL)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, versionKey(conv.ID))

	if errors.Is(err, redis.TxFailedErr) {
		// Invalidated while writing.
		return false, nil
	}
	return stored, err
}

// DeleteConversation drops the entry and bumps its version so fills that
// loaded the row earlier are discarded.
func (c *Cache) DeleteConversation(ctx context.Context, id string) error {
	_, err := c.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(id))
		pipe.Expire(ctx, versionKey(id), versionTTL)
		pipe.Del(ctx, conversationKey(id))
		return nil
	})
	return err
}

// GetUsers returns the cached entries among ids and the ids that missed.
func (c *Cache) GetUsers(ctx context.Context, ids []string) (map[string]domain.UserSummary, []string, error) {
	found := make(map[string]domain.UserSummary, len(ids))
	if len(ids) == 0 {
		return found, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "user:" + id
	}

	vals, err := c.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, ids, err
	}

	var missing []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var u domain.UserSummary
		if err := json.Unmarshal([]byte(s), &u); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		found[ids[i]] = u
	}
	return found, missing, nil
}

func (c *Cache) SetUsers(ctx context.Context, users []domain.UserSummary) error {
	if len(users) == 0 {
		return nil
	}
	pipe := c.Client.Pipeline()
	for _, u := range users {
		val, err := json.Marshal(u)
		if err != nil {
			return err
		}
		pipe.Set(ctx, "user:"+u.ID, val, userTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}
