package wa

// Cloud API request bodies. Kept as plain maps; the schemas are shallow
// and provider-defined, a typed mirror would just chase their docs.

// URLButton is a call-to-action button opening an external link.
type URLButton struct {
	URL         string
	DisplayText string
}

func textMessage(to, text, recipient string) map[string]any {
	return map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    recipient,
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        text,
		},
	}
}

func interactiveButtons(to, body string, buttons []URLButton) map[string]any {
	action := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		action = append(action, map[string]any{
			"type": "url",
			"url": map[string]any{
				"url":          b.URL,
				"display_text": b.DisplayText,
			},
		})
	}
	return map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "cta_url",
			"body": map[string]any{"text": body},
			"action": map[string]any{
				"buttons": action,
			},
		},
	}
}

func templateMessage(to, name, language string, components []map[string]any) map[string]any {
	return map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "template",
		"template": map[string]any{
			"name":       name,
			"language":   map[string]any{"code": language},
			"components": components,
		},
	}
}
