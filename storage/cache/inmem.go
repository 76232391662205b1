// Package cache implements the grouped query cache used for backend reads.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
)

var nowFunc = time.Now // mockable

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is a process-local core.QueryCache. Values are stored as JSON so readers never share memory with writers.
type Memory struct {
	mu     sync.RWMutex
	ttl    time.Duration
	groups map[string]map[string]memEntry
}

var _ core.QueryCache = (*Memory)(nil) // interface compliance check

// NewMemory returns a cache whose entries expire after ttl (never when ttl <= 0).
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, groups: make(map[string]map[string]memEntry)}
}

func (c *Memory) Get(_ context.Context, group, key string, dest interface{}) (bool, error) {
	c.mu.RLock()
	entry, ok := c.groups[group][key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if entry.expired(nowFunc()) {
		c.evict(group, key)
		return false, nil
	}
	if err := json.Unmarshal(entry.value, dest); err != nil {
		return false, errors.Wrapf(err, "decoding cached %s/%s", group, key)
	}
	return true, nil
}

// evict drops the entry if it is still expired once the write lock is held; a concurrent Set may have
// replaced it.
func (c *Memory) evict(group, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.groups[group][key]; ok && entry.expired(nowFunc()) {
		delete(c.groups[group], key)
	}
}

func (c *Memory) Set(_ context.Context, group, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding %s/%s", group, key)
	}
	entry := memEntry{value: data}
	if c.ttl > 0 {
		entry.expiresAt = nowFunc().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.groups[group] == nil {
		c.groups[group] = make(map[string]memEntry)
	}
	c.groups[group][key] = entry
	return nil
}

func (c *Memory) InvalidateGroups(_ context.Context, groups ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range groups {
		delete(c.groups, g)
	}
	return nil
}
