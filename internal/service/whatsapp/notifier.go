package whatsapp

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/domain/models"
	client "github.com/mamadbah2/affinage/pkg/clients/whatsapp"
)

const sendTimeout = 10 * time.Second

// Notifier delivers outbound messages through the WhatsApp Cloud API. Requests
// with buttons become interactive messages, the rest plain text.
type Notifier struct {
	client client.Client
	logger *zap.Logger
}

// NewNotifier wraps a WhatsApp client.
func NewNotifier(c client.Client, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: c, logger: logger}
}

// SendOutbound pushes one message to req.To.
func (n *Notifier) SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if len(req.Buttons) == 0 {
		_, err := n.client.SendTextMessage(ctxWithTimeout, client.SendTextMessageRequest{
			To:         req.To,
			Body:       req.Message,
			PreviewURL: req.PreviewURL,
		})
		return err
	}

	buttons := make([]client.Button, len(req.Buttons))
	for i, b := range req.Buttons {
		buttons[i] = client.Button{ID: b.ID, Title: b.Title}
	}
	_, err := n.client.SendButtonMessage(ctxWithTimeout, client.SendButtonMessageRequest{
		To:      req.To,
		Body:    req.Message,
		Buttons: buttons,
	})
	return err
}
