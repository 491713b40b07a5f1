// Package bot routes inbound webhook events: owner messages become
// commands (or reply-session answers, or two-step schedule content), and
// group messages are correlated back to scheduled posts.
//
// HandleInbound returns a list of outbound intents instead of sending
// directly, so the correlation and command logic stays testable without
// any I/O.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wagenda/internal/correlate"
	"wagenda/internal/replysession"
	"wagenda/internal/scheduler"
	"wagenda/internal/storage"
	"wagenda/internal/wa"
	"wagenda/pkg/logx"
)

// Gateway is the outbound surface the executor drives.
type Gateway interface {
	SendText(ctx context.Context, to, text string) (wa.SendResult, error)
	SendInteractive(ctx context.Context, to, body string, buttons []wa.URLButton) (wa.SendResult, error)
	SendOwnerNotifyTemplate(ctx context.Context, to, groupName, senderName, snippet, ctaURL string) (wa.SendResult, error)
}

type Config struct {
	OwnerID       string
	PhoneNumberID string
	Timezone      *time.Location
}

type Bot struct {
	ownerID       string
	phoneNumberID string

	store    *storage.Store
	sched    *scheduler.Service
	tracker  *correlate.Tracker
	sessions *replysession.Manager
	gw       Gateway
	log      logx.Logger

	mu  sync.RWMutex
	loc *time.Location
}

func New(cfg Config, store *storage.Store, sched *scheduler.Service, tracker *correlate.Tracker, sessions *replysession.Manager, gw Gateway, log logx.Logger) *Bot {
	loc := cfg.Timezone
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{
		ownerID:       cfg.OwnerID,
		phoneNumberID: cfg.PhoneNumberID,
		store:         store,
		sched:         sched,
		tracker:       tracker,
		sessions:      sessions,
		gw:            gw,
		log:           log,
		loc:           loc,
	}
}

// SetTimezone swaps the zone owner-supplied times resolve against.
func (b *Bot) SetTimezone(loc *time.Location) {
	if loc == nil {
		return
	}
	b.mu.Lock()
	b.loc = loc
	b.mu.Unlock()
}

func (b *Bot) location() *time.Location {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loc
}

// HandleInbound turns one inbound event into outbound intents. Scheduling
// state may change (jobs, sessions, pending slots); no messages are sent.
func (b *Bot) HandleInbound(ctx context.Context, ev Event, now time.Time) ([]Action, error) {
	if ev.SenderID == "" {
		return nil, nil
	}
	if ev.IsGroup() {
		return b.handleGroupMessage(ctx, ev)
	}
	return b.handleOwnerMessage(ctx, ev, now)
}

// Execute performs the intents against the gateway. One failing action
// does not stop the rest.
func (b *Bot) Execute(ctx context.Context, actions []Action) {
	for _, a := range actions {
		switch act := a.(type) {
		case SendText:
			if _, err := b.gw.SendText(ctx, act.To, act.Text); err != nil {
				b.log.Error("send failed", logx.String("to", act.To), logx.Err(err))
			}
		case ForwardReply:
			if _, err := b.gw.SendText(ctx, act.To, act.Text); err != nil {
				b.log.Error("reply forward failed", logx.String("to", act.To), logx.Err(err))
			}
		case NotifyOwner:
			b.notifyOwner(ctx, act)
		default:
			b.log.Warn("unknown action", logx.Any("action", a))
		}
	}
}

func (b *Bot) notifyOwner(ctx context.Context, act NotifyOwner) {
	body := fmt.Sprintf("[Group: %s] %s: %s", act.GroupName, act.SenderName, act.Snippet)
	buttons := []wa.URLButton{{
		URL:         act.ChatLink,
		DisplayText: "Open chat with " + act.SenderName,
	}}
	_, err := b.gw.SendInteractive(ctx, act.To, body, buttons)
	if err == nil {
		return
	}
	if !wa.IsWindowClosed(err) {
		b.log.Error("owner notification failed", logx.Err(err))
		return
	}
	// 24h window closed: only template messages go through.
	if _, err := b.gw.SendOwnerNotifyTemplate(ctx, act.To, act.GroupName, act.SenderName, act.Snippet, act.ChatLink); err != nil {
		b.log.Error("owner notify template failed", logx.Err(err))
	}
}
