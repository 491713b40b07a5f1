package bot

import (
	"context"

	"wagenda/internal/wa"
	"wagenda/pkg/logx"
)

const notifySnippetMax = 180

// handleGroupMessage correlates a group message with an open reply window.
// A match notifies the owner and arms their reply slot toward the sender;
// anything else is dropped. The bot never posts into groups on its own
// initiative here.
func (b *Bot) handleGroupMessage(ctx context.Context, ev Event) ([]Action, error) {
	if ev.SenderID == b.phoneNumberID || ev.SenderID == b.ownerID {
		return nil, nil
	}
	if ev.Text == "" {
		// media, reactions, system events: nothing to forward
		return nil, nil
	}

	c, err := b.tracker.Match(ctx, ev.GroupID, ev.SenderID, ev.ContextMessageID, ev.Timestamp)
	if err != nil {
		return nil, err
	}
	if c == nil {
		b.log.Debug("group message outside any reply window",
			logx.String("group_id", ev.GroupID),
			logx.String("sender", ev.SenderID))
		return nil, nil
	}

	if _, err := b.sessions.Start(ctx, b.ownerID, ev.SenderID, ev.GroupID, ev.Timestamp); err != nil {
		return nil, err
	}

	groupName := ev.GroupName
	if groupName == "" {
		groupName = ev.GroupID
	}
	senderName := ev.SenderName
	if senderName == "" {
		senderName = ev.SenderID
	}

	b.log.Info("group reply matched",
		logx.Int64("job_id", c.JobID),
		logx.String("group_id", ev.GroupID),
		logx.String("sender", ev.SenderID))

	return []Action{NotifyOwner{
		To:         b.ownerID,
		GroupName:  groupName,
		SenderName: senderName,
		Snippet:    snippet(ev.Text, notifySnippetMax),
		ChatLink:   wa.PrivateChatLink(ev.SenderID),
	}}, nil
}
