// Package presence tracks which users are currently connected to a project.
// A user is online while their heartbeats arrive within the TTL.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a heartbeat keeps a user online.
const DefaultTTL = 90 * time.Second

// User is one online user.
type User struct {
	Name     string    `json:"user_name"`
	Role     string    `json:"user_role"`
	LastSeen time.Time `json:"last_seen"`
}

// Tracker records heartbeats and answers who is online.
type Tracker interface {
	Heartbeat(ctx context.Context, projectID uint, name, role string) error
	Leave(ctx context.Context, projectID uint, name string) error
	Online(ctx context.Context, projectID uint) ([]User, error)
}

// RoleOnline reports whether any online user of the project holds role.
func RoleOnline(ctx context.Context, t Tracker, projectID uint, role string) (bool, error) {
	users, err := t.Online(ctx, projectID)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.Role == role {
			return true, nil
		}
	}
	return false, nil
}

func sortUsers(users []User) {
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
}

// Memory is an in-process Tracker for single-instance deployments and tests.
type Memory struct {
	TTL time.Duration
	Now func() time.Time

	mu       sync.Mutex
	projects map[uint]map[string]User
}

// NewMemory returns a Memory tracker (DefaultTTL when ttl is zero).
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{TTL: ttl, Now: time.Now, projects: map[uint]map[string]User{}}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Heartbeat marks the user online.
func (m *Memory) Heartbeat(_ context.Context, projectID uint, name, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.projects[projectID]
	if users == nil {
		users = map[string]User{}
		m.projects[projectID] = users
	}
	users[name] = User{Name: name, Role: role, LastSeen: m.now()}
	return nil
}

// Leave marks the user offline.
func (m *Memory) Leave(_ context.Context, projectID uint, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects[projectID], name)
	return nil
}

// Online lists users whose last heartbeat is within the TTL, by name.
// Expired entries are dropped.
func (m *Memory) Online(_ context.Context, projectID uint) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.TTL)
	var out []User
	for name, u := range m.projects[projectID] {
		if u.LastSeen.Before(cutoff) {
			delete(m.projects[projectID], name)
			continue
		}
		out = append(out, u)
	}
	sortUsers(out)
	return out, nil
}
