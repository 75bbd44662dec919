// Package worker implements the background delivery worker: a separate
// process that receives push messages while the agent surface is not
// focused, renders an OS notification, and routes clicks back into the
// application. It shares no memory with the agent; all communication
// goes through the runtime message channel or the startup URL.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/eventra/notify/internal/domain"
	"github.com/eventra/notify/internal/runtimemsg"
)

const (
	defaultTitle = "Eventra"
	defaultIcon  = "assets/notification-icon.png"
)

// OSNotification is a rendered OS-level notification.
type OSNotification struct {
	Tag   string
	Title string
	Body  string
	Icon  string
	Data  map[string]string
}

// Notifier shows and closes OS notifications.
type Notifier interface {
	Show(n OSNotification) error
	Close(tag string) error
}

// Surface is one open application surface (a tab, in the original
// platform client).
type Surface interface {
	Origin() string
	Focus() error
}

// Surfaces lists the currently open application surfaces.
type Surfaces interface {
	List() []Surface
}

// Opener opens a URL in a fresh surface.
type Opener interface {
	Open(url string) error
}

// Worker handles push messages and notification clicks.
type Worker struct {
	notifier  Notifier
	surfaces  Surfaces
	opener    Opener
	poster    *runtimemsg.Poster
	appOrigin string
	logger    *zap.Logger
}

// NewWorker wires the worker. poster may be nil when no warm channel is
// configured; clicks then always take the cold path.
func NewWorker(notifier Notifier, surfaces Surfaces, opener Opener, poster *runtimemsg.Poster, appOrigin string, logger *zap.Logger) *Worker {
	return &Worker{
		notifier:  notifier,
		surfaces:  surfaces,
		opener:    opener,
		poster:    poster,
		appOrigin: appOrigin,
		logger:    logger,
	}
}

// HandleMessage renders one inbound push message. Missing fields fall
// back to defaults rather than dropping the message.
func (w *Worker) HandleMessage(msg domain.PushMessage) {
	n := OSNotification{
		Title: defaultTitle,
		Icon:  defaultIcon,
		Data:  msg.Data,
	}
	if msg.Notification != nil {
		if msg.Notification.Title != "" {
			n.Title = msg.Notification.Title
		}
		n.Body = msg.Notification.Body
		if msg.Notification.Image != "" {
			n.Icon = msg.Notification.Image
		}
	}
	if msg.Data != nil {
		n.Tag = msg.Data["notifId"]
	}

	if err := w.notifier.Show(n); err != nil {
		w.logger.Error("failed to show notification", zap.Error(err))
	}
}

// HandleClick closes the notification and brings the application to
// the clicked item: focus an existing surface and hand the id over the
// warm channel, or open a fresh surface with the cold-path URL.
func (w *Worker) HandleClick(ctx context.Context, n OSNotification) {
	if err := w.notifier.Close(n.Tag); err != nil {
		w.logger.Warn("failed to close notification", zap.Error(err))
	}

	notifID := ""
	if n.Data != nil {
		notifID = n.Data["notifId"]
	}

	for _, s := range w.surfaces.List() {
		if s.Origin() != w.appOrigin {
			continue
		}
		if err := s.Focus(); err != nil {
			w.logger.Warn("failed to focus surface", zap.Error(err))
			break
		}
		if notifID == "" {
			return
		}
		if w.poster != nil {
			if err := w.poster.Post(ctx, notifID); err == nil {
				return
			}
			w.logger.Debug("warm channel failed, falling back to URL handoff")
		}
		break
	}

	target := w.appOrigin + "/"
	if notifID != "" {
		target = runtimemsg.OpenURL(w.appOrigin, notifID)
	}
	if err := w.opener.Open(target); err != nil {
		w.logger.Error("failed to open application surface", zap.Error(err))
	}
}
