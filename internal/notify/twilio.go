package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Twilio sends SMS from one configured number to another.
type Twilio struct {
	api  messageCreator
	from string
	to   string
}

func NewTwilio(accountSID, authToken, from, to string) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Twilio{api: client.Api, from: from, to: to}
}

func (t *Twilio) Send(ctx context.Context, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(t.to)
	params.SetFrom(t.from)
	params.SetBody(body)

	msg, err := t.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio send: %w", err)
	}
	if msg == nil || msg.Sid == nil {
		return "", errors.New("twilio send: response has no message sid")
	}
	return *msg.Sid, nil
}
