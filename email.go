package campusauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Message is one out-of-band delivery: an email or an SMS
type Message struct {
	Method  DeliveryMethod
	To      string
	Subject string
	Body    string
}

// Dispatcher delivers messages. Applications provide the real email/SMS
// transport; failures are reported to the caller, who decides what the
// user sees.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// DispatcherFunc adapts a plain function to a Dispatcher
type DispatcherFunc func(ctx context.Context, msg Message) error

func (f DispatcherFunc) Dispatch(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ConsoleDispatcher is a development implementation that logs messages
type ConsoleDispatcher struct {
	Logger *slog.Logger
}

func (c *ConsoleDispatcher) Dispatch(ctx context.Context, msg Message) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "outbound message",
		"method", msg.Method, "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// RecordingDispatcher keeps every message in memory. Useful in tests and demos.
type RecordingDispatcher struct {
	mu       sync.Mutex
	messages []Message

	// Err, when set, is returned instead of recording
	Err error
}

func (r *RecordingDispatcher) Dispatch(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *RecordingDispatcher) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the most recent message sent to the destination
func (r *RecordingDispatcher) Last(to string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].To == to {
			return r.messages[i], true
		}
	}
	return Message{}, false
}

func secondFactorMessage(p *Principal, code string, window time.Duration) (Message, error) {
	msg := Message{
		Method:  p.TwoFactor.Method,
		Subject: "Your verification code",
		Body:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(window.Minutes())),
	}
	switch p.TwoFactor.Method {
	case DeliverySMS:
		msg.To = p.Phone
	case DeliveryEmail, "":
		msg.Method = DeliveryEmail
		msg.To = p.Email
	default:
		return Message{}, fmt.Errorf("method %q cannot be dispatched", p.TwoFactor.Method)
	}
	if msg.To == "" {
		return Message{}, fmt.Errorf("no %s destination for principal %s", msg.Method, p.ID)
	}
	return msg, nil
}

func passwordResetMessage(email, resetLink string, window time.Duration) Message {
	return Message{
		Method:  DeliveryEmail,
		To:      email,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Reset your password by visiting: %s\nThis link expires in %d minutes and can be used once.",
			resetLink, int(window.Minutes())),
	}
}
