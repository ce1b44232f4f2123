package msgraph

import (
	"context"
	"fmt"
	"net/url"
)

// Mailer sends mail through Graph from a fixed sender mailbox.
type Mailer struct {
	client *Client
	sender string
}

// NewMailer creates a mailer sending as the given mailbox.
func NewMailer(client *Client, sender string) *Mailer {
	return &Mailer{client: client, sender: sender}
}

type sendMailRequest struct {
	Message mailMessage `json:"message"`
}

type mailMessage struct {
	Subject      string          `json:"subject"`
	Body         eventBody       `json:"body"`
	ToRecipients []mailRecipient `json:"toRecipients"`
}

type mailRecipient struct {
	EmailAddress mailAddress `json:"emailAddress"`
}

type mailAddress struct {
	Address string `json:"address"`
}

// Send delivers an HTML message to a single recipient.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	req := sendMailRequest{
		Message: mailMessage{
			Subject:      subject,
			Body:         eventBody{ContentType: "html", Content: body},
			ToRecipients: []mailRecipient{{EmailAddress: mailAddress{Address: to}}},
		},
	}

	path := fmt.Sprintf("/users/%s/sendMail", url.PathEscape(m.sender))
	if err := m.client.doJSON(ctx, "POST", path, req, nil); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
