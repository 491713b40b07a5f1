package wa

import "context"

// ownerNotifyTemplate is the pre-approved template used when the free-form
// owner notification is rejected because the messaging window is closed.
const ownerNotifyTemplate = "owner_notify"

func ownerNotifyComponents(groupName, senderName, snippet, ctaURL string) []map[string]any {
	return []map[string]any{
		{
			"type": "body",
			"parameters": []map[string]any{
				{"type": "text", "text": groupName},
				{"type": "text", "text": senderName},
				{"type": "text", "text": snippet},
			},
		},
		{
			"type":     "button",
			"sub_type": "url",
			"index":    "0",
			"parameters": []map[string]any{
				{"type": "text", "text": ctaURL},
			},
		},
	}
}

// SendOwnerNotifyTemplate delivers the owner notification via the
// owner_notify template.
func (c *Client) SendOwnerNotifyTemplate(ctx context.Context, to, groupName, senderName, snippet, ctaURL string) (SendResult, error) {
	return c.SendTemplate(ctx, to, ownerNotifyTemplate, "en_US",
		ownerNotifyComponents(groupName, senderName, snippet, ctaURL))
}
