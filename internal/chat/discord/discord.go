// Package discord implements the chat transport on a Discord bot gateway.
package discord

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/oszuidwest/zwfm-soundwatch/internal/chat"
	"github.com/oszuidwest/zwfm-soundwatch/internal/control"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// Session is the subset of *discordgo.Session used by the transport.
type Session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// SessionFactory creates a gateway session for a bot token.
type SessionFactory func(token string) (Session, error)

func newSession(token string) (Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return s, nil
}

// Transport talks to one Discord channel.
type Transport struct {
	token     string
	channelID string
	factory   SessionFactory

	mu      sync.RWMutex
	session Session
	// incoming receives gateway messages; handlers are bound per session.
	incoming chan chat.Message
	remove   func()
}

// New returns a Discord transport bound to channelID.
func New(token, channelID string) *Transport {
	return NewWithFactory(token, channelID, newSession)
}

// NewWithFactory is New with a custom session constructor.
func NewWithFactory(token, channelID string, factory SessionFactory) *Transport {
	return &Transport{
		token:     token,
		channelID: channelID,
		factory:   factory,
		incoming:  make(chan chat.Message, 16),
	}
}

// Name implements chat.Transport.
func (t *Transport) Name() string { return "discord" }

// Connect implements chat.Transport. It closes any previous session.
func (t *Transport) Connect(_ context.Context) error {
	s, err := t.factory(t.token)
	if err != nil {
		return util.WrapError("create discord session", err)
	}
	remove := s.AddHandler(t.onMessage)
	if err := s.Open(); err != nil {
		remove()
		return util.WrapError("open discord gateway", err)
	}

	t.mu.Lock()
	old, oldRemove := t.session, t.remove
	t.session, t.remove = s, remove
	t.mu.Unlock()

	if old != nil {
		oldRemove()
		if err := old.Close(); err != nil {
			slog.Debug("failed to close previous discord session", "error", err)
		}
	}
	return nil
}

func (t *Transport) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	msg := chat.Message{
		ChatID:     m.ChannelID,
		Text:       m.Content,
		Authorized: m.ChannelID == t.channelID,
	}
	select {
	case t.incoming <- msg:
	default:
		slog.Warn("discord inbound queue full, dropping message", "channel_id", m.ChannelID)
	}
}

func (t *Transport) client() (Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.session == nil {
		return nil, chat.ErrNotConnected
	}
	return t.session, nil
}

// Send implements chat.Transport.
func (t *Transport) Send(_ context.Context, r control.Reply) error {
	s, err := t.client()
	if err != nil {
		return err
	}
	if r.Kind == control.ReplyText {
		_, err = s.ChannelMessageSend(t.channelID, r.Text)
		return err
	}
	_, err = s.ChannelMessageSendComplex(t.channelID, &discordgo.MessageSend{
		Content: r.Text,
		Files: []*discordgo.File{{
			Name:        r.Filename,
			ContentType: r.MIME,
			Reader:      bytes.NewReader(r.Data),
		}},
	})
	return err
}

// Receive implements chat.Transport.
func (t *Transport) Receive(ctx context.Context, fn func(chat.Message)) error {
	if _, err := t.client(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-t.incoming:
			fn(msg)
		}
	}
}

// Close implements chat.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	s, remove := t.session, t.remove
	t.session, t.remove = nil, nil
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	remove()
	return s.Close()
}
