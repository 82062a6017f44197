package adapters

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// ChatDestination posts a templated message to destination_config's
// "webhook_url" via slack-go/slack's incoming-webhook client.
type ChatDestination struct {
	post func(url string, msg *slack.WebhookMessage) error
}

func NewChatDestination() *ChatDestination {
	return &ChatDestination{post: slack.PostWebhook}
}

func (c *ChatDestination) Send(ctx context.Context, cfg map[string]any, payload map[string]any) (Result, error) {
	url, _ := cfg["webhook_url"].(string)
	if url == "" {
		return Result{}, fmt.Errorf("chat destination config missing webhook_url")
	}

	text, _ := payload["message"].(string)
	if text == "" {
		text = fmt.Sprintf("%v", payload)
	}

	msg := &slack.WebhookMessage{Text: text}
	if channel, ok := cfg["channel"].(string); ok && channel != "" {
		msg.Channel = channel
	}

	if err := c.post(url, msg); err != nil {
		return Result{}, fmt.Errorf("posting to chat destination: %w", err)
	}
	return Result{ResponseStatus: 200, ResponseBody: "posted"}, nil
}
