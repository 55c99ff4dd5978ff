// Package dispatch delivers OTP codes out-of-band.
// Delivery itself (emails, retries) belongs to a worker consuming the published messages.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nkiryanov/passwordless/internal/models"
)

const DefaultTopic = "auth.otp"

type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.OTPMessage) error
}

type infoLogger interface {
	Info(msg string, args ...any)
}

// LogDispatcher writes codes to the log. Suitable for development only
type LogDispatcher struct {
	logger infoLogger
}

func NewLog(l infoLogger) *LogDispatcher {
	return &LogDispatcher{logger: l}
}

func (d *LogDispatcher) Dispatch(_ context.Context, msg models.OTPMessage) error {
	d.logger.Info("otp issued, deliver it by hand", "email", msg.Email, "code", msg.Code, "expires_at", msg.ExpiresAt)
	return nil
}

func encode(msg models.OTPMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal otp message: %w", err)
	}
	return payload, nil
}
