package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SESEmailSender sends email through AWS SES
type SESEmailSender struct {
	client      sesAPI
	fromAddress string
}

// NewSESEmailSender loads the default AWS config for the region and creates an SES sender
func NewSESEmailSender(ctx context.Context, region, fromAddress string) (*SESEmailSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SESEmailSender{client: ses.NewFromConfig(cfg), fromAddress: fromAddress}, nil
}

func (s *SESEmailSender) SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) (*SendReceipt, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Html: &sestypes.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				Text: &sestypes.Content{Data: aws.String(textBody), Charset: aws.String("UTF-8")},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}
	return &SendReceipt{MessageID: aws.ToString(out.MessageId)}, nil
}

// SMTPEmailSender sends email through an SMTP relay
type SMTPEmailSender struct {
	dialer      *gomail.Dialer
	fromAddress string
}

// NewSMTPEmailSender creates an SMTP sender
func NewSMTPEmailSender(host string, port int, username, password, fromAddress string) *SMTPEmailSender {
	return &SMTPEmailSender{
		dialer:      gomail.NewDialer(host, port, username, password),
		fromAddress: fromAddress,
	}
}

func (s *SMTPEmailSender) SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) (*SendReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	m := gomail.NewMessage()
	m.SetHeader("From", s.fromAddress)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@gatekeeper>", id))
	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}
	return &SendReceipt{MessageID: id}, nil
}

// SNSSMSSender sends text messages through AWS SNS
type SNSSMSSender struct {
	client   snsAPI
	senderID string
}

// NewSNSSMSSender loads the default AWS config for the region and creates an SNS sender
func NewSNSSMSSender(ctx context.Context, region, senderID string) (*SNSSMSSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SNSSMSSender{client: sns.NewFromConfig(cfg), senderID: senderID}, nil
}

func (s *SNSSMSSender) SendSMS(ctx context.Context, to, body string) (*SendReceipt, error) {
	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(to),
		Message:           aws.String(body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("sns publish: %w", err)
	}
	return &SendReceipt{MessageID: aws.ToString(out.MessageId)}, nil
}

// LogSender writes messages to the log instead of delivering them. It serves
// both channels in development. When previewBase is set the receipt carries a
// preview link for the message. Message bodies are redacted in production.
type LogSender struct {
	logger      *slog.Logger
	previewBase string
	env         string
}

// NewLogSender creates a LogSender
func NewLogSender(logger *slog.Logger, previewBase, env string) *LogSender {
	return &LogSender{logger: logger, previewBase: previewBase, env: env}
}

func (s *LogSender) SendEmail(ctx context.Context, to, subject, textBody, _ string) (*SendReceipt, error) {
	return s.record(ctx, "email", to, subject+"\n"+textBody), nil
}

func (s *LogSender) SendSMS(ctx context.Context, to, body string) (*SendReceipt, error) {
	return s.record(ctx, "sms", to, body), nil
}

func (s *LogSender) record(ctx context.Context, channel, to, body string) *SendReceipt {
	id := uuid.New().String()
	s.logger.InfoContext(ctx, "message not delivered, logged instead",
		slog.String("channel", channel),
		slog.String("to", pkglogger.SanitizedIdentifier(to)),
		slog.String("message_id", id),
		pkglogger.RedactedAttr("body", body, s.env))

	receipt := &SendReceipt{MessageID: id}
	if s.previewBase != "" {
		receipt.PreviewURL = s.previewBase + "/" + url.PathEscape(id)
	}
	return receipt
}
