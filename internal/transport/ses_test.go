package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-manager/internal/mail"
)

type fakeSES struct {
	lastInput *sesv2.SendEmailInput
	out       *sesv2.SendEmailOutput
	err       error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.lastInput = params
	return f.out, f.err
}

func testEmail() *mail.Email {
	e := &mail.Email{
		From:    mail.Address{Name: "Acme", Email: "noreply@acme.test"},
		To:      []mail.Address{{Name: "Jo", Email: "jo@example.test"}},
		Subject: "Hello",
		Body: &mail.Multipart{
			Kind: mail.MultipartAlternative,
			Children: []mail.Part{
				mail.NewPlainPart("hi"),
				mail.NewHTMLPart("<html><body>hi</body></html>"),
			},
		},
	}
	e.SetHeader("X-Mailer-Hash", "abc123")
	return e
}

func TestSESSenderBuildsInput(t *testing.T) {
	fake := &fakeSES{out: &sesv2.SendEmailOutput{MessageId: aws.String("mid-1")}}
	sender := NewSESSenderWithClient(fake)

	res, err := sender.Send(context.Background(), testEmail())
	require.NoError(t, err)
	assert.Equal(t, "mid-1", res.MessageID)
	assert.Equal(t, "mid-1", res.TrackingMessageID())

	in := fake.lastInput
	require.NotNil(t, in)
	assert.Equal(t, "Acme <noreply@acme.test>", *in.FromEmailAddress)
	assert.Equal(t, []string{"Jo <jo@example.test>"}, in.Destination.ToAddresses)
	require.NotNil(t, in.Content.Simple.Body.Html)
	assert.Contains(t, *in.Content.Simple.Body.Html.Data, "<body>")
	require.NotNil(t, in.Content.Simple.Body.Text)

	var hashHeader string
	for _, h := range in.Content.Simple.Headers {
		if *h.Name == "X-Mailer-Hash" {
			hashHeader = *h.Value
		}
	}
	assert.Equal(t, "abc123", hashHeader)
}

func TestSESSenderClassifiesFailure(t *testing.T) {
	fake := &fakeSES{err: errors.New("MessageRejected: 550 5.1.1 user unknown")}
	sender := NewSESSenderWithClient(fake)

	_, err := sender.Send(context.Background(), testEmail())
	require.Error(t, err)
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, 550, sendErr.Code)
}

func TestClassifyWithoutCode(t *testing.T) {
	se := classify(errors.New("connection reset"))
	assert.Equal(t, 0, se.Code)
	assert.Equal(t, "connection reset", se.Error())
}
