package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wagenda/internal/command"
	"wagenda/internal/scheduler"
	"wagenda/internal/storage"
	"wagenda/internal/timeparse"
	"wagenda/pkg/logx"
)

const localTimeLayout = "2006-01-02 15:04 MST"

// handleOwnerMessage processes a private message. Only the configured
// owner gets commands; everyone else is ignored. Non-command text falls
// through reply-session routing, then two-step schedule completion, then
// the usage help.
func (b *Bot) handleOwnerMessage(ctx context.Context, ev Event, now time.Time) ([]Action, error) {
	if ev.SenderID != b.ownerID {
		b.log.Warn("private message from non-owner ignored",
			logx.String("sender", ev.SenderID))
		return nil, nil
	}

	if ev.ButtonPayload != "" {
		return reply(ev.SenderID, "Buttons are just shortcuts to open a chat; send a text command instead."), nil
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return reply(ev.SenderID, "Send a text command.\n\n"+command.Help), nil
	}

	cmd, err := command.Parse(text)
	if err == nil {
		return b.dispatch(ctx, cmd, ev, now)
	}

	// Not a command. An active reply session claims the message first.
	if rs, ok, err := b.sessions.Consume(ctx, ev.SenderID, now); err != nil {
		return nil, err
	} else if ok {
		return []Action{
			ForwardReply{To: rs.TargetSenderID, Text: text},
			SendText{To: ev.SenderID, Text: "Reply forwarded."},
		}, nil
	}

	// Then a waiting two-step schedule takes it as content.
	if actions, handled, err := b.completePendingSchedule(ctx, ev, text, now); err != nil {
		return nil, err
	} else if handled {
		return actions, nil
	}

	return reply(ev.SenderID, "I did not understand that.\n\n"+command.Help), nil
}

func (b *Bot) dispatch(ctx context.Context, cmd command.Command, ev Event, now time.Time) ([]Action, error) {
	switch c := cmd.(type) {
	case command.Schedule:
		return b.cmdSchedule(ctx, c, ev, now)
	case command.ScheduleConfig:
		return b.cmdScheduleConfig(ctx, c, ev, now)
	case command.Cancel:
		return b.cmdCancel(ctx, c, ev)
	case command.List:
		return b.cmdList(ctx, ev)
	case command.Groups:
		return b.cmdGroups(ctx, ev)
	case command.RegisterGroup:
		return b.cmdRegisterGroup(ctx, c, ev, now)
	case command.UnregisterGroup:
		return b.cmdUnregisterGroup(ctx, c, ev)
	}
	return reply(ev.SenderID, command.Help), nil
}

func (b *Bot) cmdSchedule(ctx context.Context, c command.Schedule, ev Event, now time.Time) ([]Action, error) {
	runAt, err := timeparse.Parse(c.When, now, b.location())
	if err != nil {
		return reply(ev.SenderID, fmt.Sprintf("I could not read the time %q. Try \"tomorrow 09:00\", \"in 20 minutes\", or \"2026-09-01 14:30\".", c.When)), nil
	}

	job, err := b.sched.Schedule(ctx, c.Alias, c.Text, runAt, now, ev.SenderID)
	if actions, handled := scheduleErrorReply(err, ev.SenderID, c.Alias); handled {
		return actions, nil
	}
	if err != nil {
		return nil, err
	}
	return reply(ev.SenderID, fmt.Sprintf("Scheduled job #%d to %s at %s.",
		job.ID, job.GroupAlias, b.formatTime(job.RunAt))), nil
}

func (b *Bot) cmdScheduleConfig(ctx context.Context, c command.ScheduleConfig, ev Event, now time.Time) ([]Action, error) {
	runAt, err := timeparse.Parse(c.When, now, b.location())
	if err != nil {
		return reply(ev.SenderID, fmt.Sprintf("I could not read the time %q. Try \"tomorrow 09:00\", \"in 20 minutes\", or \"2026-09-01 14:30\".", c.When)), nil
	}

	alias := strings.ToLower(strings.TrimSpace(c.Alias))
	if _, err := b.store.GetGroup(ctx, alias); errors.Is(err, storage.ErrNotFound) {
		return reply(ev.SenderID, fmt.Sprintf("Unknown group %q. Use `groups` to list registered aliases.", alias)), nil
	} else if err != nil {
		return nil, err
	}

	err = b.store.PutPendingSchedule(ctx, storage.PendingSchedule{
		OwnerID:    ev.SenderID,
		GroupAlias: alias,
		RunAt:      runAt,
		CreatedAt:  now.UTC(),
	})
	if err != nil {
		return nil, err
	}
	return reply(ev.SenderID, fmt.Sprintf("Got it. Send the message text for %s at %s.",
		alias, b.formatTime(runAt))), nil
}

// completePendingSchedule consumes the owner's waiting slot, if any, using
// the message as the scheduled content. The slot is cleared even when
// scheduling fails; a stale slot must not swallow later messages.
func (b *Bot) completePendingSchedule(ctx context.Context, ev Event, text string, now time.Time) ([]Action, bool, error) {
	p, err := b.store.GetPendingSchedule(ctx, ev.SenderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if _, err := b.store.ClearPendingSchedule(ctx, ev.SenderID); err != nil {
		return nil, false, err
	}

	job, err := b.sched.Schedule(ctx, p.GroupAlias, text, p.RunAt, now, ev.SenderID)
	if errors.Is(err, scheduler.ErrPastDue) {
		return reply(ev.SenderID, fmt.Sprintf("The slot for %s at %s has passed; schedule it again.",
			p.GroupAlias, b.formatTime(p.RunAt))), true, nil
	}
	if actions, handled := scheduleErrorReply(err, ev.SenderID, p.GroupAlias); handled {
		return actions, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return reply(ev.SenderID, fmt.Sprintf("Scheduled job #%d to %s at %s.",
		job.ID, job.GroupAlias, b.formatTime(job.RunAt))), true, nil
}

func (b *Bot) cmdCancel(ctx context.Context, c command.Cancel, ev Event) ([]Action, error) {
	err := b.sched.Cancel(ctx, c.JobID)
	switch {
	case err == nil:
		return reply(ev.SenderID, fmt.Sprintf("Job #%d canceled.", c.JobID)), nil
	case errors.Is(err, scheduler.ErrNotFound):
		return reply(ev.SenderID, fmt.Sprintf("No job #%d.", c.JobID)), nil
	}
	var ise *scheduler.InvalidStateError
	if errors.As(err, &ise) {
		return reply(ev.SenderID, fmt.Sprintf("Job #%d is already %s.", c.JobID, ise.Status)), nil
	}
	return nil, err
}

func (b *Bot) cmdList(ctx context.Context, ev Event) ([]Action, error) {
	jobs, err := b.sched.List(ctx, storage.JobPending)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return reply(ev.SenderID, "No pending jobs."), nil
	}

	var sb strings.Builder
	sb.WriteString("Pending jobs:\n")
	for _, j := range jobs {
		fmt.Fprintf(&sb, "#%d %s at %s: %s\n",
			j.ID, j.GroupAlias, b.formatTime(j.RunAt), snippet(j.Text, 60))
	}
	return reply(ev.SenderID, strings.TrimRight(sb.String(), "\n")), nil
}

func (b *Bot) cmdGroups(ctx context.Context, ev Event) ([]Action, error) {
	groups, err := b.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return reply(ev.SenderID, "No groups registered. Use `register group <alias> <group_id>`."), nil
	}

	var sb strings.Builder
	sb.WriteString("Registered groups:\n")
	for _, g := range groups {
		if g.Name != "" {
			fmt.Fprintf(&sb, "%s -> %s (%s)\n", g.Alias, g.GroupID, g.Name)
		} else {
			fmt.Fprintf(&sb, "%s -> %s\n", g.Alias, g.GroupID)
		}
	}
	return reply(ev.SenderID, strings.TrimRight(sb.String(), "\n")), nil
}

func (b *Bot) cmdRegisterGroup(ctx context.Context, c command.RegisterGroup, ev Event, now time.Time) ([]Action, error) {
	g := storage.Group{
		Alias:     c.Alias,
		GroupID:   c.GroupID,
		Name:      c.Name,
		CreatedAt: now.UTC(),
	}
	saved, err := b.store.UpsertGroup(ctx, g)
	if err != nil {
		return nil, err
	}
	return reply(ev.SenderID, fmt.Sprintf("Group %s registered as %s.",
		saved.GroupID, saved.Alias)), nil
}

func (b *Bot) cmdUnregisterGroup(ctx context.Context, c command.UnregisterGroup, ev Event) ([]Action, error) {
	existed, err := b.store.DeleteGroup(ctx, c.Alias)
	if err != nil {
		return nil, err
	}
	if !existed {
		return reply(ev.SenderID, fmt.Sprintf("No group registered as %q.", strings.ToLower(c.Alias))), nil
	}
	return reply(ev.SenderID, fmt.Sprintf("Group %s unregistered. Pending jobs for it stay scheduled.",
		strings.ToLower(c.Alias))), nil
}

// scheduleErrorReply renders the user-facing scheduling failures; other
// errors pass through to the caller.
func scheduleErrorReply(err error, to, alias string) ([]Action, bool) {
	if err == nil {
		return nil, false
	}
	var uae *scheduler.UnknownAliasError
	switch {
	case errors.As(err, &uae):
		return reply(to, fmt.Sprintf("Unknown group %q. Use `groups` to list registered aliases.", uae.Alias)), true
	case errors.Is(err, scheduler.ErrUnknownAlias):
		return reply(to, fmt.Sprintf("Unknown group %q. Use `groups` to list registered aliases.", alias)), true
	case errors.Is(err, scheduler.ErrPastDue):
		return reply(to, "That time is in the past. Pick a future time."), true
	}
	return nil, false
}

func (b *Bot) formatTime(t time.Time) string {
	return t.In(b.location()).Format(localTimeLayout)
}

func reply(to, text string) []Action {
	return []Action{SendText{To: to, Text: text}}
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
