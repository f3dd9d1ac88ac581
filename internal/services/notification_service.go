package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// DeliveryResult is the outcome of a notification send
type DeliveryResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// SendReceipt is what a transport reports after accepting a message
type SendReceipt struct {
	MessageID  string
	PreviewURL string
}

// EmailSender delivers a single email
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) (*SendReceipt, error)
}

// SMSSender delivers a single text message
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (*SendReceipt, error)
}

// NotificationDispatcher routes codes and access decisions to the email or SMS transport
type NotificationDispatcher struct {
	email   EmailSender
	sms     SMSSender
	codeTTL time.Duration
	logger  *slog.Logger
}

// NewNotificationDispatcher creates a new NotificationDispatcher
func NewNotificationDispatcher(email EmailSender, sms SMSSender, codeTTL time.Duration, logger *slog.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		email:   email,
		sms:     sms,
		codeTTL: codeTTL,
		logger:  logger,
	}
}

// SendCode delivers a one-time code. A failed send returns an error together
// with a result whose message is safe to show to the user.
func (d *NotificationDispatcher) SendCode(ctx context.Context, identifier, code, channel string) (*DeliveryResult, error) {
	minutes := int(d.codeTTL.Round(time.Minute) / time.Minute)

	var receipt *SendReceipt
	var err error
	switch channel {
	case models.ChannelEmail:
		text := fmt.Sprintf("Your intranet sign-in code is %s.\n\nIt expires in %d minutes. If you did not try to sign in, ignore this message.\n", code, minutes)
		html := fmt.Sprintf(`<p>Your intranet sign-in code is</p><p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p><p>It expires in %d minutes. If you did not try to sign in, ignore this message.</p>`, code, minutes)
		receipt, err = d.email.SendEmail(ctx, identifier, "Your sign-in code", text, html)
	case models.ChannelSMS:
		receipt, err = d.sms.SendSMS(ctx, identifier, fmt.Sprintf("Intranet sign-in code: %s (valid %d min)", code, minutes))
	default:
		return &DeliveryResult{Message: "Unsupported delivery channel"}, fmt.Errorf("unknown channel %q", channel)
	}

	if err != nil {
		d.logger.Error("failed to deliver code",
			slog.String("channel", channel),
			slog.String("identifier", pkglogger.SanitizedIdentifier(identifier)),
			slog.Any("error", err))
		return &DeliveryResult{Message: "We could not deliver your code. Please try again."}, err
	}

	d.logger.Info("code delivered",
		slog.String("channel", channel),
		slog.String("identifier", pkglogger.SanitizedIdentifier(identifier)),
		slog.String("message_id", receipt.MessageID))

	return &DeliveryResult{
		Success:    true,
		Message:    deliveredMessage(channel),
		PreviewURL: receipt.PreviewURL,
	}, nil
}

// SendAccessDecision tells a requester whether their access request was approved
func (d *NotificationDispatcher) SendAccessDecision(ctx context.Context, identifier, channel string, approved bool) (*DeliveryResult, error) {
	subject := "Your intranet access request was not approved"
	text := "Your request for access to the intranet portal was reviewed and not approved. Contact your manager if you believe this is a mistake."
	if approved {
		subject = "Your intranet access request was approved"
		text = "Your request for access to the intranet portal was approved. You can now sign in."
	}

	var err error
	switch channel {
	case models.ChannelEmail:
		_, err = d.email.SendEmail(ctx, identifier, subject, text, "<p>"+text+"</p>")
	case models.ChannelSMS:
		_, err = d.sms.SendSMS(ctx, identifier, text)
	default:
		err = fmt.Errorf("unknown channel %q", channel)
	}

	if err != nil {
		d.logger.Warn("failed to deliver access decision",
			slog.String("channel", channel),
			slog.String("identifier", pkglogger.SanitizedIdentifier(identifier)),
			slog.Any("error", err))
		return &DeliveryResult{Message: "Decision notification could not be delivered"}, err
	}

	return &DeliveryResult{Success: true, Message: "Decision notification sent"}, nil
}

func deliveredMessage(channel string) string {
	if channel == models.ChannelSMS {
		return "A sign-in code was sent to your phone"
	}
	return "A sign-in code was sent to your email"
}
