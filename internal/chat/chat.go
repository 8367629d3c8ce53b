// Package chat connects a control handler to a chat transport: it routes
// messages from the one authorized conversation to the handler and delivers
// replies, alerts and error reports with a single reconnect-and-retry.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-soundwatch/internal/control"
	"github.com/oszuidwest/zwfm-soundwatch/internal/observe"
	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// ErrNotConnected is returned by transports used before Connect succeeded.
var ErrNotConnected = errors.New("chat transport not connected")

// Message is an inbound chat message.
type Message struct {
	ChatID string
	Text   string
	// Authorized reports whether the message comes from the configured conversation.
	Authorized bool
}

// Transport is a chat backend bound to one conversation.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string
	// Connect creates a fresh client, replacing any previous one.
	Connect(ctx context.Context) error
	// Send delivers one reply to the configured conversation.
	Send(ctx context.Context, r control.Reply) error
	// Receive calls fn for each inbound message until ctx is done.
	Receive(ctx context.Context, fn func(Message)) error
	// Close releases the client.
	Close() error
}

// CommandHandler executes command text and returns the replies.
type CommandHandler interface {
	Handle(ctx context.Context, text string) []control.Reply
}

// Session owns a transport for the lifetime of the process.
type Session struct {
	transport  Transport
	handler    CommandHandler
	metrics    *observe.Metrics
	retryDelay time.Duration
}

// NewSession returns a Session. metrics may be nil.
func NewSession(t Transport, h CommandHandler, metrics *observe.Metrics) *Session {
	return &Session{
		transport:  t,
		handler:    h,
		metrics:    metrics,
		retryDelay: types.DeliveryRetryDelay,
	}
}

// Transport returns the name of the underlying transport.
func (s *Session) Transport() string {
	return s.transport.Name()
}

// Connect establishes the transport, retrying with backoff until it
// succeeds or ctx is done.
func (s *Session) Connect(ctx context.Context) error {
	backoff := util.NewBackoff(time.Second, time.Minute)
	for {
		err := s.transport.Connect(ctx)
		if err == nil {
			slog.Info("chat connected", "transport", s.transport.Name())
			return nil
		}
		delay := backoff.Next()
		slog.Warn("chat connect failed", "transport", s.transport.Name(), "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Run dispatches inbound commands until ctx is done. Messages from other
// conversations are logged and ignored.
func (s *Session) Run(ctx context.Context) error {
	return s.transport.Receive(ctx, func(m Message) {
		if !m.Authorized {
			slog.Info("denied message", "transport", s.transport.Name(), "chat_id", m.ChatID, "text", m.Text)
			return
		}
		replies := s.handler.Handle(ctx, m.Text)
		if len(replies) == 0 {
			return
		}
		s.recordCommand(ctx, m.Text, replies)
		if err := s.Send(ctx, replies...); err != nil {
			slog.Error("failed to deliver command reply", "transport", s.transport.Name(), "error", err)
		}
	})
}

func (s *Session) recordCommand(ctx context.Context, text string, replies []control.Reply) {
	req, ok := control.Parse(text)
	if !ok {
		return
	}
	status := "ok"
	if len(replies) == 1 && replies[0].Kind == control.ReplyText && strings.HasPrefix(replies[0].Text, "❗") {
		status = "error"
	}
	s.metrics.RecordCommand(ctx, req.Command.String(), status)
}

// Send delivers replies in order. A failed send is retried once after a
// short pause on a freshly connected client. The first reply that still
// fails aborts the rest.
func (s *Session) Send(ctx context.Context, replies ...control.Reply) error {
	for _, r := range replies {
		if err := s.sendWithRetry(ctx, r); err != nil {
			s.metrics.RecordDeliveryFailure(ctx, s.transport.Name())
			return err
		}
	}
	return nil
}

func (s *Session) sendWithRetry(ctx context.Context, r control.Reply) error {
	err := s.transport.Send(ctx, r)
	if err == nil {
		return nil
	}
	slog.Warn("chat send failed, reconnecting", "transport", s.transport.Name(), "error", err)

	select {
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	case <-time.After(s.retryDelay):
	}

	if cerr := s.transport.Connect(ctx); cerr != nil {
		return util.WrapError("reconnect "+s.transport.Name(), errors.Join(err, cerr))
	}
	if err := s.transport.Send(ctx, r); err != nil {
		return util.WrapError("send via "+s.transport.Name(), err)
	}
	return nil
}

// Greet sends the startup greeting.
func (s *Session) Greet(ctx context.Context) error {
	return s.Send(ctx, control.Text(control.MsgHello))
}

// ReportError sends an out-of-band error report.
func (s *Session) ReportError(ctx context.Context, err error) error {
	return s.Send(ctx, control.Text(control.ErrorText(err)))
}

// Close closes the transport.
func (s *Session) Close() error {
	return s.transport.Close()
}
