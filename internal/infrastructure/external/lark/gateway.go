package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// Gateway delivers notifications as Lark interactive cards
type Gateway struct {
	sender        port.LarkMessageSender
	receiveIDType string
	logger        *zap.Logger
}

// NewGateway creates a notification gateway over sender.
// receiveIDType defaults to "user_id".
func NewGateway(sender port.LarkMessageSender, receiveIDType string, logger *zap.Logger) *Gateway {
	if receiveIDType == "" {
		receiveIDType = "user_id"
	}
	return &Gateway{
		sender:        sender,
		receiveIDType: receiveIDType,
		logger:        logger,
	}
}

// SendToUser renders n as a card and sends it to n.UserID.
// When an e-mail rendering is attached it is sent as a second text message.
func (g *Gateway) SendToUser(ctx context.Context, n entity.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("notification has no recipient")
	}

	card, err := json.Marshal(buildCard(n))
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}
	if err := g.sender.SendMessage(ctx, g.receiveIDType, n.UserID, "interactive", string(card)); err != nil {
		return fmt.Errorf("failed to send card message: %w", err)
	}

	if n.Email != nil && n.Email.To != "" {
		text, err := json.Marshal(map[string]string{"text": n.Email.Subject + "\n\n" + n.Email.Body})
		if err != nil {
			return fmt.Errorf("failed to marshal email content: %w", err)
		}
		if err := g.sender.SendMessage(ctx, "email", n.Email.To, "text", string(text)); err != nil {
			g.logger.Warn("Failed to send email copy",
				zap.String("request_number", n.RequestNo),
				zap.Error(err))
		}
	}
	return nil
}

type card struct {
	Config   cardConfig    `json:"config"`
	Header   cardHeader    `json:"header"`
	Elements []interface{} `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type cardHeader struct {
	Template string   `json:"template"`
	Title    cardText `json:"title"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardDiv struct {
	Tag  string   `json:"tag"`
	Text cardText `json:"text"`
}

type cardAction struct {
	Tag     string       `json:"tag"`
	Actions []cardButton `json:"actions"`
}

type cardButton struct {
	Tag  string   `json:"tag"`
	Text cardText `json:"text"`
	Type string   `json:"type"`
	URL  string   `json:"url"`
}

func buildCard(n entity.Notification) card {
	body := n.Message
	if n.RequestNo != "" {
		body += fmt.Sprintf("\n**Request:** %s", n.RequestNo)
	}
	if !n.RelatedTo.IsZero() {
		ref := n.RelatedTo.ID
		if n.RelatedTo.Display != "" {
			ref = n.RelatedTo.Display
		}
		body += fmt.Sprintf("\n**Related %s:** %s", n.RelatedTo.Kind, ref)
	}
	body += fmt.Sprintf("\n**Priority:** %s", n.Priority)

	c := card{
		Config: cardConfig{WideScreenMode: true},
		Header: cardHeader{
			Template: headerColor(n),
			Title:    cardText{Tag: "plain_text", Content: n.Title},
		},
		Elements: []interface{}{
			cardDiv{Tag: "div", Text: cardText{Tag: "lark_md", Content: body}},
		},
	}
	if n.ActionURL != "" {
		c.Elements = append(c.Elements, cardAction{
			Tag: "action",
			Actions: []cardButton{{
				Tag:  "button",
				Text: cardText{Tag: "plain_text", Content: "Open request"},
				Type: "primary",
				URL:  n.ActionURL,
			}},
		})
	}
	return c
}

func headerColor(n entity.Notification) string {
	switch n.Kind {
	case entity.NotificationApproved:
		return "green"
	case entity.NotificationRejected, entity.NotificationCancelled:
		return "red"
	case entity.NotificationEscalated:
		return "orange"
	}
	if n.Priority == entity.UrgencyUrgent || n.Priority == entity.UrgencyHigh {
		return "orange"
	}
	return "blue"
}

var _ port.NotificationGateway = (*Gateway)(nil)
