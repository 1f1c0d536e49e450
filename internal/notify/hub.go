// Package notify carries "something changed" signals for watched tables over
// Redis pub/sub. Messages have no payload semantics: a subscriber reacts to
// any message on its resource channel by refetching that resource in full.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Resource names a watched table.
type Resource string

const (
	SiteContent   Resource = "site_content"
	GalleryImages Resource = "gallery_images"
)

const channelPrefix = "site:changes:"

// Handler refetches a resource. It runs on the subscription's own goroutine.
type Handler func(ctx context.Context)

// Subscription is one live channel. Close tears it down.
type Subscription interface {
	Close() error
}

// Bus is what the content and gallery clients need from the hub.
type Bus interface {
	Publish(ctx context.Context, resource Resource) error
	Subscribe(ctx context.Context, resource Resource, handler Handler) (Subscription, error)
}

type Hub struct {
	client *redis.Client
}

func NewHub(client *redis.Client) *Hub {
	return &Hub{client: client}
}

// Dial parses a redis:// URL and verifies the connection.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func Channel(resource Resource) string {
	return channelPrefix + string(resource)
}

// Publish announces that resource changed.
func (h *Hub) Publish(ctx context.Context, resource Resource) error {
	if err := h.client.Publish(ctx, Channel(resource), "changed").Err(); err != nil {
		return fmt.Errorf("publish %s change: %w", resource, err)
	}
	return nil
}

func (h *Hub) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// Subscribe opens one live subscription for resource. handler is called once
// per burst of messages: while it runs, further messages collapse into a
// single pending call.
func (h *Hub) Subscribe(ctx context.Context, resource Resource, handler Handler) (Subscription, error) {
	pubsub := h.client.Subscribe(ctx, Channel(resource))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", resource, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		resource: resource,
		pubsub:   pubsub,
		cancel:   cancel,
		pending:  make(chan struct{}, 1),
	}

	sub.wg.Add(2)
	go sub.receive(runCtx)
	go sub.dispatch(runCtx, handler)
	return sub, nil
}

// subscription closes by cancelling both goroutines and waiting for a running
// handler to return.
type subscription struct {
	resource Resource
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	pending  chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func (s *subscription) receive(ctx context.Context) {
	defer s.wg.Done()
	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-messages:
			if !ok {
				return
			}
			select {
			case s.pending <- struct{}{}:
			default:
			}
		}
	}
}

func (s *subscription) dispatch(ctx context.Context, handler Handler) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.pending:
			slog.Debug("change notification", "resource", s.resource)
			handler(ctx)
		}
	}
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
		s.wg.Wait()
	})
	return err
}
