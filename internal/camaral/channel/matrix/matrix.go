// Package matrix adapts the Matrix protocol to the channel contract.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/danielbolivar/makers-challenge/common/trace"
	"github.com/danielbolivar/makers-challenge/internal/camaral/channel"
	"github.com/danielbolivar/makers-challenge/internal/camaral/observability"
)

// ChannelID is the channel identity every Matrix message carries. User
// identity is scoped to it; the same Matrix ID on another transport would be
// a different user.
const ChannelID = "matrix"

const typingTimeout = 30 * time.Second

const (
	syncBackoffMin    = 2 * time.Second
	syncBackoffMax    = 5 * time.Minute
	syncHealthyPeriod = time.Minute
)

// reconnectDelay returns how long to wait before restarting the sync and the
// delay to carry into the next failure. uptime is how long the failed sync
// ran; outliving syncHealthyPeriod means the homeserver recovered, so the
// progression starts over instead of compounding across separate outages.
func reconnectDelay(prev, uptime time.Duration) (wait, next time.Duration) {
	wait = prev
	if uptime > syncHealthyPeriod {
		wait = syncBackoffMin
	}
	next = wait * 2
	if next > syncBackoffMax {
		next = syncBackoffMax
	}
	return wait, next
}

// Config holds the Matrix connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// Rooms the bot joins and listens in. Messages in other rooms are
	// ignored.
	Rooms []string
}

// Adapter bridges a Matrix homeserver to a channel.Responder. One goroutine
// runs the sync loop; replies are sent from per-message goroutines so a slow
// model call cannot stall the sync.
type Adapter struct {
	client    *mautrix.Client
	cfg       Config
	responder channel.Responder
	logger    *slog.Logger
	stopCh    chan struct{}
}

// New creates a Matrix adapter for the given responder.
func New(cfg Config, responder channel.Responder, logger *slog.Logger) (*Adapter, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:    client,
		cfg:       cfg,
		responder: responder,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start joins the configured rooms and runs the sync loop in the background.
// A transient homeserver error reconnects with exponential backoff instead of
// leaving the bot deaf.
func (a *Adapter) Start(ctx context.Context) error {
	syncer := a.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, a.handleEvent)

	for _, room := range a.cfg.Rooms {
		if err := a.joinRoom(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", room, err)
		}
	}

	go func() {
		backoff := syncBackoffMin
		for {
			started := time.Now()
			if err := a.client.Sync(); err != nil {
				select {
				case <-a.stopCh:
					return
				default:
				}
				var wait time.Duration
				wait, backoff = reconnectDelay(backoff, time.Since(started))
				a.logger.Error("matrix sync stopped, reconnecting",
					slog.String("error", err.Error()),
					slog.Duration("backoff", wait))
				select {
				case <-a.stopCh:
					return
				case <-time.After(wait):
				}
				continue
			}
			// Sync returns nil only after a clean StopSync.
			return
		}
	}()

	return nil
}

// Stop shuts the sync loop down.
func (a *Adapter) Stop() {
	close(a.stopCh)
	a.client.StopSync()
}

func (a *Adapter) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(a.cfg.UserID) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	if len(a.cfg.Rooms) > 0 && !a.inConfiguredRoom(evt.RoomID.String()) {
		return
	}

	msg := channel.Inbound{
		UserID:    evt.Sender.String(),
		ChannelID: ChannelID,
		Text:      content.Body,
	}

	go a.respond(trace.WithID(context.Background(), trace.NewID()), evt.RoomID, msg)
}

// respond runs the full turn and delivers the reply. The responder always
// hands back deliverable text, so a non-nil error is logged, not shown.
func (a *Adapter) respond(ctx context.Context, roomID id.RoomID, msg channel.Inbound) {
	logger := observability.WithTrace(ctx)

	if _, err := a.client.UserTyping(ctx, roomID, true, typingTimeout); err != nil {
		logger.Debug("matrix typing indicator failed", slog.String("error", err.Error()))
	}
	defer func() {
		if _, err := a.client.UserTyping(ctx, roomID, false, 0); err != nil {
			logger.Debug("matrix typing indicator failed", slog.String("error", err.Error()))
		}
	}()

	out, err := a.responder.Respond(ctx, msg)
	if err != nil {
		logger.Error("turn failed",
			slog.String("user_id", msg.UserID),
			slog.String("error", err.Error()))
	}
	if out.Text == "" {
		return
	}

	if _, err := a.client.SendText(ctx, roomID, out.Text); err != nil {
		logger.Error("matrix send failed",
			slog.String("room_id", roomID.String()),
			slog.String("error", err.Error()))
	}
}

func (a *Adapter) inConfiguredRoom(roomID string) bool {
	for _, r := range a.cfg.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

func (a *Adapter) joinRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := a.client.JoinRoomByID(ctx, roomID); err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			a.logger.Warn("already a member or access denied, continuing",
				slog.String("room_id", roomID.String()))
			return nil
		}
		return err
	}
	return nil
}
