package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v3"
)

// ResendSender delivers messages through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   From
}

func NewResendSender(apiKey string, from From) (*ResendSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	return NewResendSenderWithClient(resend.NewClient(apiKey), from)
}

func NewResendSenderWithClient(client *resend.Client, from From) (*ResendSender, error) {
	if client == nil {
		return nil, fmt.Errorf("resend client is required")
	}
	if strings.TrimSpace(from.Address) == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	return &ResendSender{client: client, from: from}, nil
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	req := &resend.SendEmailRequest{
		From:    s.from.String(),
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}

	if _, err := s.client.Emails.SendWithContext(ctx, req); err != nil {
		return &DispatchError{Driver: "resend", Recipients: msg.To, Err: err}
	}
	return nil
}
