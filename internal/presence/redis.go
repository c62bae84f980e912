package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Tracker shared by every server instance. Each heartbeat is a
// key with an expiry, so stale users disappear without a sweeper.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis returns a Redis tracker storing keys under prefix.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "conductor:presence"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *Redis) key(projectID uint, name string) string {
	return fmt.Sprintf("%s:%d:%s", r.prefix, projectID, name)
}

// Heartbeat marks the user online for one TTL.
func (r *Redis) Heartbeat(ctx context.Context, projectID uint, name, role string) error {
	data, err := json.Marshal(User{Name: name, Role: role, LastSeen: r.now()})
	if err != nil {
		return fmt.Errorf("presence: marshal heartbeat: %w", err)
	}
	if err := r.client.Set(ctx, r.key(projectID, name), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("presence: heartbeat %s: %w", name, err)
	}
	return nil
}

// Leave marks the user offline.
func (r *Redis) Leave(ctx context.Context, projectID uint, name string) error {
	if err := r.client.Del(ctx, r.key(projectID, name)).Err(); err != nil {
		return fmt.Errorf("presence: leave %s: %w", name, err)
	}
	return nil
}

// Online lists the users with a live heartbeat key, by name.
func (r *Redis) Online(ctx context.Context, projectID uint) ([]User, error) {
	pattern := fmt.Sprintf("%s:%d:*", r.prefix, projectID)
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("presence: scan project %d: %w", projectID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: read project %d: %w", projectID, err)
	}
	var out []User
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var u User
		if err := json.Unmarshal([]byte(s), &u); err != nil {
			continue
		}
		out = append(out, u)
	}
	sortUsers(out)
	return out, nil
}
