package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func setupHub(t *testing.T) *Hub {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := Dial(context.Background(), "redis://"+s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewHub(client)
}

func TestDialRejectsBadURL(t *testing.T) {
	_, err := Dial(context.Background(), "not a url")
	require.Error(t, err)
}

func TestPublishTriggersHandler(t *testing.T) {
	hub := setupHub(t)
	ctx := context.Background()

	var calls atomic.Int32
	sub, err := hub.Subscribe(ctx, SiteContent, func(context.Context) { calls.Add(1) })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, hub.Publish(ctx, SiteContent))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriptionsAreScopedPerResource(t *testing.T) {
	hub := setupHub(t)
	ctx := context.Background()

	var content, gallery atomic.Int32
	contentSub, err := hub.Subscribe(ctx, SiteContent, func(context.Context) { content.Add(1) })
	require.NoError(t, err)
	defer contentSub.Close()
	gallerySub, err := hub.Subscribe(ctx, GalleryImages, func(context.Context) { gallery.Add(1) })
	require.NoError(t, err)
	defer gallerySub.Close()

	require.NoError(t, hub.Publish(ctx, GalleryImages))
	require.Eventually(t, func() bool { return gallery.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return content.Load() != 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestBurstIsCoalescedWhileHandlerRuns(t *testing.T) {
	hub := setupHub(t)
	ctx := context.Background()

	release := make(chan struct{})
	var calls atomic.Int32
	sub, err := hub.Subscribe(ctx, GalleryImages, func(context.Context) {
		if calls.Add(1) == 1 {
			<-release
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, hub.Publish(ctx, GalleryImages))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(ctx, GalleryImages))
	}
	// Give the receiver time to drain the burst into the single pending slot.
	time.Sleep(100 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return calls.Load() > 2 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestCloseStopsDelivery(t *testing.T) {
	hub := setupHub(t)
	ctx := context.Background()

	var calls atomic.Int32
	sub, err := hub.Subscribe(ctx, SiteContent, func(context.Context) { calls.Add(1) })
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, hub.Publish(ctx, SiteContent))
	require.Never(t, func() bool { return calls.Load() != 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
