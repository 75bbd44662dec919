package feed

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eventra/notify/internal/domain"
	"github.com/eventra/notify/internal/ws"
)

// API is the slice of the platform client the sync layer consumes.
type API interface {
	FetchFeed(ctx context.Context, userID string, limit int, before time.Time) ([]*domain.Notification, error)
	FetchUnreadCount(ctx context.Context, userID string) (int, error)
	MarkOpened(ctx context.Context, userID string, ids []string) (int, error)
}

// Conn is the subscription surface of the connection client.
type Conn interface {
	Subscribe(l ws.Listener) func()
}

// Options tune the sync layer.
type Options struct {
	// PageLimit is the size of the cached first page.
	PageLimit int
	// UnreadStale is the staleness window of the unread counter.
	UnreadStale time.Duration
}

// Sync keeps the notification feed and unread counter for one user
// consistent with server state. The first page and the counter are
// cached; any inbound frame on the bound connection invalidates both.
// Mark-opened is optimistic: the caches are edited before the network
// call and reconciled by an unconditional refetch afterward.
type Sync struct {
	api    API
	userID string
	logger *zap.Logger
	now    func() time.Time

	group  singleflight.Group
	feedQ  *query[[]*domain.Notification]
	countQ *query[int]

	unbind func()
}

// NewSync creates the sync layer for userID.
func NewSync(api API, userID string, opts Options, logger *zap.Logger) *Sync {
	if opts.PageLimit <= 0 {
		opts.PageLimit = 20
	}
	if opts.UnreadStale <= 0 {
		opts.UnreadStale = 30 * time.Second
	}

	s := &Sync{
		api:    api,
		userID: userID,
		logger: logger,
		now:    time.Now,
	}
	s.feedQ = newQuery("feed", 0, &s.group, func() time.Time { return s.now() },
		func(ctx context.Context) ([]*domain.Notification, error) {
			return api.FetchFeed(ctx, userID, opts.PageLimit, time.Time{})
		})
	s.countQ = newQuery("unread", opts.UnreadStale, &s.group, func() time.Time { return s.now() },
		func(ctx context.Context) (int, error) {
			return api.FetchUnreadCount(ctx, userID)
		})
	return s
}

// BindClient subscribes to the connection client so inbound events
// invalidate the caches. Payload content is irrelevant: any
// server-originated frame implies a potential feed change.
func (s *Sync) BindClient(c Conn) {
	if s.unbind != nil {
		s.unbind()
	}
	s.unbind = c.Subscribe(func(ws.Message) {
		s.Invalidate()
	})
}

// Close releases the connection subscription.
func (s *Sync) Close() {
	if s.unbind != nil {
		s.unbind()
		s.unbind = nil
	}
}

// Feed returns the cached first page, refetching when invalidated.
func (s *Sync) Feed(ctx context.Context) ([]*domain.Notification, error) {
	return s.feedQ.get(ctx)
}

// FeedBefore pages further back in time. Older pages are not cached.
func (s *Sync) FeedBefore(ctx context.Context, limit int, before time.Time) ([]*domain.Notification, error) {
	return s.api.FetchFeed(ctx, s.userID, limit, before)
}

// UnreadCount returns the cached counter, refetching when stale.
func (s *Sync) UnreadCount(ctx context.Context) (int, error) {
	return s.countQ.get(ctx)
}

// OnWindowFocus marks the unread counter stale so the next read hits
// the server.
func (s *Sync) OnWindowFocus() {
	s.countQ.invalidate()
}

// Invalidate forces both caches to refetch on next read.
func (s *Sync) Invalidate() {
	s.feedQ.invalidate()
	s.countQ.invalidate()
}

// Errors returns the per-query error strings of the last failed feed
// and unread fetches, for display in the notification panel.
func (s *Sync) Errors() (feedErr, unreadErr string) {
	return s.feedQ.err(), s.countQ.err()
}

// MarkOpened marks ids opened. The cached feed and counter are updated
// optimistically before the network call; afterwards both caches are
// invalidated and refetched whether the call succeeded or not. The
// optimistic edit is a responsiveness aid, never a correctness claim.
func (s *Sync) MarkOpened(ctx context.Context, ids []string) error {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	opened := 0
	openedAt := s.now()
	s.feedQ.mutate(func(items []*domain.Notification) []*domain.Notification {
		for _, n := range items {
			if wanted[n.ID] && n.Unread() {
				at := openedAt
				n.OpenedAt = &at
				opened++
			}
		}
		return items
	})
	if opened > 0 {
		s.countQ.mutate(func(count int) int {
			count -= opened
			if count < 0 {
				count = 0
			}
			return count
		})
	}

	_, err := s.api.MarkOpened(ctx, s.userID, ids)
	if err != nil {
		s.logger.Warn("mark-opened failed, reconciling from server", zap.Error(err))
	}

	s.Invalidate()
	s.refetch(ctx)
	return err
}

// refetch repopulates both caches, logging failures. The server is the
// source of truth; an error here just leaves the caches invalid for the
// next read.
func (s *Sync) refetch(ctx context.Context) {
	if _, err := s.feedQ.get(ctx); err != nil {
		s.logger.Warn("feed refetch failed", zap.Error(err))
	}
	if _, err := s.countQ.get(ctx); err != nil {
		s.logger.Warn("unread refetch failed", zap.Error(err))
	}
}
