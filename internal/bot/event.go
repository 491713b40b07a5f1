package bot

import (
	"encoding/json"
	"strconv"
	"time"
)

// Event is one normalized inbound message from the webhook payload.
type Event struct {
	SenderID         string
	SenderName       string
	MessageID        string
	Timestamp        time.Time
	Type             string // "text", "interactive", ...
	Text             string
	ButtonPayload    string
	ContextMessageID string // id of the quoted message, if any
	GroupID          string
	GroupName        string
}

func (e Event) IsGroup() bool { return e.GroupID != "" }

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Context *struct {
		ID      string `json:"id"`
		GroupID string `json:"group_id"`
	} `json:"context"`
	Group *struct {
		ID      string `json:"id"`
		Subject string `json:"subject"`
		Name    string `json:"name"`
	} `json:"group"`
}

// ExtractEvents flattens a webhook delivery into inbound events.
// Unknown or non-message changes are skipped, never an error: the provider
// batches unrelated notifications into the same POST.
func ExtractEvents(payload []byte, now time.Time) ([]Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	var out []Event
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				if m.From == "" {
					continue
				}
				ev := Event{
					SenderID:   m.From,
					SenderName: names[m.From],
					MessageID:  m.ID,
					Timestamp:  parseTimestamp(m.Timestamp, now),
					Type:       m.Type,
				}
				if m.Text != nil {
					ev.Text = m.Text.Body
				}
				if m.Interactive != nil {
					switch {
					case m.Interactive.ButtonReply != nil:
						ev.ButtonPayload = m.Interactive.ButtonReply.ID
					case m.Interactive.ListReply != nil:
						ev.ButtonPayload = m.Interactive.ListReply.ID
					}
				}
				if m.Context != nil {
					ev.ContextMessageID = m.Context.ID
					if ev.GroupID == "" {
						ev.GroupID = m.Context.GroupID
					}
				}
				if m.Group != nil {
					ev.GroupID = m.Group.ID
					ev.GroupName = m.Group.Subject
					if ev.GroupName == "" {
						ev.GroupName = m.Group.Name
					}
				}
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func parseTimestamp(raw string, now time.Time) time.Time {
	if raw == "" {
		return now.UTC()
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return now.UTC()
	}
	return time.Unix(sec, 0).UTC()
}
