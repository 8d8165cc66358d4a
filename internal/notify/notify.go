// Package notify delivers short text notices to message originators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioNotifier sends notices through the Twilio Messages API.
type TwilioNotifier struct {
	logger *slog.Logger
	client *twilio.RestClient
	from   string
	prefix string
}

// NewTwilioNotifier creates a notifier sending from the given number.
// Recipients without a channel scheme get prefix prepended (e.g. "whatsapp:").
func NewTwilioNotifier(logger *slog.Logger, accountSID, authToken, from, prefix string) *TwilioNotifier {
	return NewTwilioNotifierWithClient(logger, accountSID, authToken, from, prefix, &http.Client{Timeout: 15 * time.Second})
}

// NewTwilioNotifierWithClient is NewTwilioNotifier with a caller supplied HTTP client.
func NewTwilioNotifierWithClient(logger *slog.Logger, accountSID, authToken, from, prefix string, httpClient *http.Client) *TwilioNotifier {
	base := &client.Client{
		Credentials: client.NewCredentials(accountSID, authToken),
		HTTPClient:  httpClient,
	}
	base.SetAccountSid(accountSID)

	return &TwilioNotifier{
		logger: logger,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username:   accountSID,
			Password:   authToken,
			AccountSid: accountSID,
			Client:     base,
		}),
		from:   withPrefix(from, prefix),
		prefix: prefix,
	}
}

// Send posts text to the recipient. The SDK call is not context aware, so ctx
// is only checked before sending.
func (n *TwilioNotifier) Send(ctx context.Context, text, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(n.from)
	params.SetTo(withPrefix(to, n.prefix))
	params.SetBody(text)

	resp, err := n.client.Api.CreateMessage(params)
	if err != nil {
		var apiErr *client.TwilioRestError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("twilio rejected message (%d): %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("failed to send message: %w", err)
	}

	var sid, status string
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	if resp.Status != nil {
		status = *resp.Status
	}
	n.logger.Info("Notice sent", "to", to, "sid", sid, "status", status)
	return nil
}

func withPrefix(number, prefix string) string {
	if prefix == "" || number == "" || strings.Contains(number, ":") {
		return number
	}
	return prefix + number
}

// LogNotifier only logs notices. It is used when no messaging account is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the notice.
func (n *LogNotifier) Send(_ context.Context, text, to string) error {
	n.logger.Info("Notice", "to", to, "text", text)
	return nil
}
