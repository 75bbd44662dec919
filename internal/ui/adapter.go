package ui

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eventra/notify/internal/domain"
	"github.com/eventra/notify/internal/feed"
)

// Navigator routes an in-app deep link.
type Navigator func(link string)

// Adapter presents feed items: it derives a human-readable body for
// structured notification types and drives the optimistic mark-opened
// flow when an item is opened.
type Adapter struct {
	sync     *feed.Sync
	navigate Navigator
	logger   *zap.Logger
}

// NewAdapter creates an adapter over the sync layer. navigate may be
// nil when no in-app navigation is available.
func NewAdapter(sync *feed.Sync, navigate Navigator, logger *zap.Logger) *Adapter {
	return &Adapter{
		sync:     sync,
		navigate: navigate,
		logger:   logger,
	}
}

// Body returns the display body for a notification. Known structured
// types synthesize a sentence from their payload fields; everything
// else falls back to the stored body, then to a generic label.
func Body(n *domain.Notification) string {
	if p, ok := n.DecodePayload(); ok {
		switch payload := p.(type) {
		case *domain.TaskAssignedPayload:
			return fmt.Sprintf("%s assigned you the task %q in %s", payload.Assigner, payload.TaskName, payload.EventName)
		case *domain.TaskStatusPayload:
			return fmt.Sprintf("Task %q moved to %s", payload.TaskName, payload.NewStatus)
		case *domain.AttendeeCheckinPayload:
			return fmt.Sprintf("%s checked in to %s", payload.AttendeeName, payload.EventName)
		}
	}
	if n.Body != "" {
		return n.Body
	}
	return "You have a new notification"
}

// Open marks the item opened (when unread) and follows its deep link.
func (a *Adapter) Open(ctx context.Context, n *domain.Notification) {
	if n.Unread() {
		if err := a.sync.MarkOpened(ctx, []string{n.ID}); err != nil {
			a.logger.Warn("failed to mark notification opened", zap.String("id", n.ID), zap.Error(err))
		}
	}
	if link := n.DeepLink(); link != "" && a.navigate != nil {
		a.navigate(link)
	}
}

// OpenAll marks every currently-loaded unread item opened. No-op when
// the feed is empty or fully read.
func (a *Adapter) OpenAll(ctx context.Context) {
	items, err := a.sync.Feed(ctx)
	if err != nil {
		a.logger.Warn("failed to load feed for open-all", zap.Error(err))
		return
	}

	var ids []string
	for _, n := range items {
		if n.Unread() {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := a.sync.MarkOpened(ctx, ids); err != nil {
		a.logger.Warn("failed to mark all opened", zap.Int("count", len(ids)), zap.Error(err))
	}
}
