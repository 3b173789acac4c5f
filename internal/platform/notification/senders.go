package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/platform/taskqueue"
)

// QueueSMSSender hands the message to the task workers as a send_sms task.
type QueueSMSSender struct {
	pub taskqueue.Publisher
}

func NewQueueSMSSender(pub taskqueue.Publisher) *QueueSMSSender {
	return &QueueSMSSender{pub: pub}
}

type smsTask struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

func (s *QueueSMSSender) SendSMS(ctx context.Context, to, body string) error {
	return s.pub.Enqueue(ctx, taskqueue.TaskSendSMS, smsTask{PhoneNumber: to, Message: body})
}

// HTTPSMSSender posts to an SMS gateway with a bearer API key.
type HTTPSMSSender struct {
	client *resty.Client
}

type providerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewHTTPSMSSender(baseURL, apiKey string) *HTTPSMSSender {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPSMSSender{client: client}
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) error {
	var out, failure providerResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(smsTask{PhoneNumber: to, Message: body}).
		SetResult(&out).
		SetError(&failure).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("sms provider: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms provider returned %d: %s", resp.StatusCode(), failure.Message)
	}
	return nil
}

// LogSMSSender writes messages to the log instead of sending them. Used when
// USE_SMS is off.
type LogSMSSender struct {
	logger zerolog.Logger
}

func NewLogSMSSender(logger zerolog.Logger) *LogSMSSender {
	return &LogSMSSender{logger: logger.With().Str("component", "sms").Logger()}
}

func (s *LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("phone_number", to).Str("body", body).Msg("sms not sent, USE_SMS disabled")
	return nil
}
