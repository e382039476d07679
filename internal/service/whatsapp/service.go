package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/config"
	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/metrics"
	"github.com/mamadbah2/affinage/internal/service/commands"
	"github.com/mamadbah2/affinage/internal/service/completion"
)

const failureNotice = "Sorry, something went wrong while saving. Nothing was changed, please try again in a moment."

// MessagingService describes the operations the HTTP layer can perform.
type MessagingService interface {
	VerifyWebhookToken(mode, verifyToken, challenge string) (string, error)
	HandleWebhook(ctx context.Context, payload models.WebhookPayload) error
	SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error
}

// Completer marks actions done.
type Completer interface {
	MarkDone(ctx context.Context, ref models.ActionRef, who string) (completion.Result, error)
}

// OutboundSender delivers one message.
type OutboundSender interface {
	SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error
}

// MetaWhatsAppService is the production implementation backed by WhatsApp Cloud API.
type MetaWhatsAppService struct {
	cfg        config.WhatsAppConfig
	sender     OutboundSender
	dispatcher commands.Dispatcher
	completer  Completer
	logger     *zap.Logger
}

// NewMetaWhatsAppService wires a new service instance.
func NewMetaWhatsAppService(cfg config.WhatsAppConfig, sender OutboundSender, dispatcher commands.Dispatcher, completer Completer, logger *zap.Logger) *MetaWhatsAppService {
	svc := &MetaWhatsAppService{
		cfg:        cfg,
		sender:     sender,
		dispatcher: dispatcher,
		completer:  completer,
		logger:     logger,
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// VerifyWebhookToken validates the callback verification token.
func (s *MetaWhatsAppService) VerifyWebhookToken(mode, verifyToken, challenge string) (string, error) {
	if mode == "" || verifyToken == "" {
		return "", errors.New("missing mode or verify token")
	}

	if !strings.EqualFold(mode, "subscribe") {
		return "", fmt.Errorf("unsupported hub.mode %s", mode)
	}

	if verifyToken != s.cfg.VerifyToken {
		return "", errors.New("invalid verify token")
	}

	return challenge, nil
}

// HandleWebhook processes inbound webhook payloads. Each message is answered
// on its own; the first delivery error is returned after all were handled.
func (s *MetaWhatsAppService) HandleWebhook(ctx context.Context, payload models.WebhookPayload) error {
	if len(payload.Entry) == 0 {
		return nil
	}

	var firstErr error

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				sender := models.Sender{ID: msg.From, Name: change.Value.ContactName(msg.From)}
				if err := s.handleInboundMessage(ctx, sender, msg); err != nil {
					s.logger.Error("failed to handle inbound message", zap.Error(err), zap.String("message_id", msg.ID))
					if firstErr == nil {
						firstErr = err
					}
				}
			}
		}
	}

	return firstErr
}

func (s *MetaWhatsAppService) handleInboundMessage(ctx context.Context, sender models.Sender, msg models.InboundMessage) error {
	if id := buttonID(msg); models.IsActionRef(id) {
		return s.handleDone(ctx, sender, id)
	}

	text := extractMessageText(msg)
	if text == "" {
		s.logger.Debug("ignoring message without text", zap.String("type", msg.Type), zap.String("from", msg.From))
		return nil
	}

	cmd := models.ParseCommand(text)
	s.logger.Info("parsed inbound command",
		zap.String("from", sender.ID),
		zap.String("command", string(cmd.Type)),
		zap.Strings("args", cmd.Args))

	reply, err := s.dispatcher.HandleCommand(ctx, cmd, sender)
	if err != nil {
		return s.reply(ctx, sender.ID, s.errorReply(cmd, err))
	}

	if err := s.reply(ctx, sender.ID, reply.Text); err != nil {
		return err
	}
	for _, task := range reply.Actions {
		err := s.send(ctx, models.OutboundMessageRequest{
			To:      sender.ID,
			Message: task.Text(),
			Buttons: []models.ReplyButton{models.DoneButton(task.Ref())},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *MetaWhatsAppService) handleDone(ctx context.Context, sender models.Sender, id string) error {
	ref, err := models.ParseActionRef(id)
	if err != nil {
		return s.reply(ctx, sender.ID, "This button is no longer valid.")
	}

	res, err := s.completer.MarkDone(ctx, ref, sender.DisplayName())
	switch {
	case errors.Is(err, models.ErrAlreadyDone):
		return s.reply(ctx, sender.ID, fmt.Sprintf("Already done by %s.", res.Action.CompletedBy))
	case errors.Is(err, models.ErrNotFound):
		return s.reply(ctx, sender.ID, "This task no longer exists.")
	case err != nil:
		s.logger.Error("mark done failed", zap.String("ref", id), zap.Error(err))
		return s.reply(ctx, sender.ID, failureNotice)
	}
	if res.Notified == 0 {
		return s.reply(ctx, sender.ID, fmt.Sprintf("✅ Marked done: %s", res.Title))
	}
	// Subscribers, the sender included, got the completion broadcast.
	return nil
}

func (s *MetaWhatsAppService) errorReply(cmd models.Command, err error) string {
	switch {
	case errors.Is(err, commands.ErrUnsupportedCommand):
		return "Unknown command. Send /help to see what I understand."
	case errors.Is(err, models.ErrOverSale):
		return "Not enough stock left: " + err.Error()
	case models.IsCorrectable(err):
		return "⚠️ " + strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
	default:
		s.logger.Error("command failed", zap.String("command", string(cmd.Type)), zap.Error(err))
		return failureNotice
	}
}

func (s *MetaWhatsAppService) reply(ctx context.Context, to, text string) error {
	return s.send(ctx, models.OutboundMessageRequest{To: to, Message: text})
}

func (s *MetaWhatsAppService) send(ctx context.Context, req models.OutboundMessageRequest) error {
	if err := s.sender.SendOutbound(ctx, req); err != nil {
		metrics.Notifications.WithLabelValues(metrics.KindReply, metrics.OutcomeFailed).Inc()
		return err
	}
	metrics.Notifications.WithLabelValues(metrics.KindReply, metrics.OutcomeSent).Inc()
	return nil
}

// SendOutbound lets internal operators push quick notifications via HTTP.
func (s *MetaWhatsAppService) SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error {
	return s.sender.SendOutbound(ctx, req)
}

func buttonID(msg models.InboundMessage) string {
	if msg.Interactive == nil {
		return ""
	}
	if msg.Interactive.ButtonReply != nil {
		return msg.Interactive.ButtonReply.ID
	}
	if msg.Interactive.ListReply != nil {
		return msg.Interactive.ListReply.ID
	}
	return ""
}

func extractMessageText(msg models.InboundMessage) string {
	if msg.Text != nil {
		return msg.Text.Body
	}
	return buttonID(msg)
}
