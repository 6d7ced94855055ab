package transport

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mail-manager/internal/config"
	"github.com/ignite/mail-manager/internal/mail"
	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// sesAPI is the subset of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers email through AWS SES using the SDK v2.
type SESSender struct {
	client sesAPI
	region string
}

// NewSESSender creates an SES sender from static credentials.
func NewSESSender(cfg config.SESConfig) (*SESSender, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(awsCfg), region: region}, nil
}

// NewSESSenderWithClient builds a sender on an existing client (tests).
func NewSESSenderWithClient(client sesAPI) *SESSender {
	return &SESSender{client: client}
}

func formatAddress(a mail.Address) string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Send delivers one email. Delivery failures come back as *SendError.
func (s *SESSender) Send(ctx context.Context, email *mail.Email) (*Result, error) {
	if s.client == nil {
		return nil, fmt.Errorf("SES client not initialized")
	}

	dest := &types.Destination{}
	for _, to := range email.To {
		dest.ToAddresses = append(dest.ToAddresses, formatAddress(to))
	}
	for _, bcc := range email.Bcc {
		dest.BccAddresses = append(dest.BccAddresses, formatAddress(bcc))
	}

	body := &types.Body{}
	if html := email.HTMLPart(); html != nil {
		body.Html = &types.Content{Data: aws.String(html.Content), Charset: aws.String("UTF-8")}
	}
	if plain := email.PlainPart(); plain != nil {
		body.Text = &types.Content{Data: aws.String(plain.Content), Charset: aws.String("UTF-8")}
	}

	msg := &types.Message{
		Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String("UTF-8")},
		Body:    body,
	}
	for name, value := range email.Headers {
		msg.Headers = append(msg.Headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(email.From)),
		Destination:      dest,
		Content:          &types.EmailContent{Simple: msg},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if len(email.To) > 0 {
			logger.Error("SES send failed",
				"to", logger.RedactEmail(email.To[0].Email), "error", err.Error())
		}
		return nil, classify(err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	if len(email.To) > 0 {
		logger.Debug("SES send accepted",
			"to", logger.RedactEmail(email.To[0].Email), "message_id", messageID)
	}
	return &Result{
		MessageID: messageID,
		Headers:   map[string]string{"X-SES-Message-ID": messageID},
	}, nil
}
