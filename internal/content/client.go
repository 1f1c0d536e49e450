// Package content keeps an in-memory copy of the site_content table and
// writes sections back with attribution.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"kiritara/api/internal/auth"
	"kiritara/api/internal/notify"
	"kiritara/api/internal/store"
)

// ErrEmptyKey is returned by Update for a blank section key.
var ErrEmptyKey = errors.New("content key is required")

// Mapping is section key to decoded value. Fetched values are JSON-shaped:
// map[string]any, []any, string, float64, bool or nil. A value merged by
// Update is a copy of what the caller passed.
type Mapping map[string]any

// Store is the slice of the database the client needs.
type Store interface {
	ListContent(ctx context.Context) ([]store.ContentEntry, error)
	UpsertContent(ctx context.Context, entry store.ContentEntry) error
}

type Option func(*Client)

// WithUserResolver overrides how the acting user is found for a write.
func WithUserResolver(resolve func(context.Context) (string, error)) Option {
	return func(c *Client) { c.currentUser = resolve }
}

// WithRefreshHook registers fn to receive a copy of the mapping each time it
// changes locally, after a refetch or an optimistic merge.
func WithRefreshHook(fn func(Mapping)) Option {
	return func(c *Client) { c.hooks = append(c.hooks, fn) }
}

type Client struct {
	store       Store
	bus         notify.Bus
	currentUser func(context.Context) (string, error)
	hooks       []func(Mapping)

	mu      sync.RWMutex
	mapping Mapping
	loaded  bool

	subMu sync.Mutex
	sub   notify.Subscription
}

func New(st Store, bus notify.Bus, opts ...Option) *Client {
	c := &Client{
		store:       st,
		bus:         bus,
		currentUser: auth.CurrentUserID,
		mapping:     Mapping{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start performs the initial fetch and subscribes to change notifications.
// A failed initial fetch is logged and leaves the mapping empty; only a failed
// subscription is returned.
func (c *Client) Start(ctx context.Context) error {
	if _, err := c.FetchAll(ctx); err != nil {
		slog.Warn("initial content fetch failed", "error", err)
	}
	if c.bus == nil {
		return nil
	}

	sub, err := c.bus.Subscribe(ctx, notify.SiteContent, func(ctx context.Context) {
		if _, err := c.FetchAll(ctx); err != nil {
			slog.Warn("content refetch failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("watch site content: %w", err)
	}
	c.subMu.Lock()
	c.sub = sub
	c.subMu.Unlock()
	return nil
}

// Close ends the change subscription. It is safe to call more than once.
func (c *Client) Close() error {
	c.subMu.Lock()
	sub := c.sub
	c.sub = nil
	c.subMu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

// FetchAll replaces the mapping with the full table. On failure the previous
// mapping is kept and an error wrapping store.ErrFetch is returned.
func (c *Client) FetchAll(ctx context.Context) (Mapping, error) {
	entries, err := c.store.ListContent(ctx)
	if err != nil {
		slog.Error("fetch site content", "error", err)
		return nil, fmt.Errorf("%w: %w", store.ErrFetch, err)
	}

	next := make(Mapping, len(entries))
	for _, entry := range entries {
		next[entry.Key] = decodeValue(entry.Value)
	}

	c.mu.Lock()
	c.mapping = next
	c.loaded = true
	c.mu.Unlock()

	out := copyMapping(next)
	c.notifyHooks()
	return out, nil
}

// Update persists value under key, attributed to the user resolved from ctx,
// then merges it into the local mapping without waiting for the refetch.
// The row holds the value serialized into a JSON string; see decodeValue.
func (c *Client) Update(ctx context.Context, key string, value any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}

	userID, err := c.currentUser(ctx)
	if err != nil {
		slog.Error("update site content", "key", key, "error", err)
		return fmt.Errorf("%w: %w", store.ErrWrite, err)
	}

	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", store.ErrWrite, key, err)
	}

	if err := c.store.UpsertContent(ctx, store.ContentEntry{Key: key, Value: raw, UpdatedBy: userID}); err != nil {
		slog.Error("update site content", "key", key, "error", err)
		return fmt.Errorf("%w: %w", store.ErrWrite, err)
	}

	c.mu.Lock()
	c.mapping[key] = DeepCopy(value)
	c.mu.Unlock()
	c.notifyHooks()

	if c.bus != nil {
		if err := c.bus.Publish(ctx, notify.SiteContent); err != nil {
			slog.Warn("announce content change", "key", key, "error", err)
		}
	}
	return nil
}

// Snapshot returns a deep copy of the current mapping.
func (c *Client) Snapshot() Mapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMapping(c.mapping)
}

// Get returns a deep copy of one section.
func (c *Client) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.mapping[key]
	if !ok {
		return nil, false
	}
	return DeepCopy(value), true
}

// Loaded reports whether at least one fetch has succeeded.
func (c *Client) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Client) notifyHooks() {
	if len(c.hooks) == 0 {
		return
	}
	snapshot := c.Snapshot()
	for _, fn := range c.hooks {
		fn(copyMapping(snapshot))
	}
}

// encodeValue serializes value and stores the result as a JSON string, so a
// string section is never mistaken for the JSON it happens to resemble.
func encodeValue(value any) (json.RawMessage, error) {
	inner, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(inner))
}

// decodeValue reverses encodeValue. A JSON string is unwrapped exactly once;
// if its contents do not parse, the string itself is the value. Rows stored
// as plain JSON pass through.
func decodeValue(raw json.RawMessage) any {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	text, ok := value.(string)
	if !ok {
		return value
	}
	var inner any
	if err := json.Unmarshal([]byte(text), &inner); err != nil {
		return text
	}
	return inner
}

func copyMapping(m Mapping) Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}

// DeepCopy clones nested maps and slices. Scalars are returned unchanged.
func DeepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = DeepCopy(item)
		}
		return out
	case Mapping:
		return map[string]any(copyMapping(v))
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return v
	}
}
