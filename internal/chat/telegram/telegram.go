// Package telegram implements the chat transport on the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/oszuidwest/zwfm-soundwatch/internal/chat"
	"github.com/oszuidwest/zwfm-soundwatch/internal/control"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// ErrInvalidChatID is returned when the configured chat id is not numeric.
var ErrInvalidChatID = errors.New("telegram chat id must be numeric")

// updateTimeout is the long-poll timeout in seconds.
const updateTimeout = 60

// BotAPI is the subset of *tgbotapi.BotAPI used by the transport.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// BotFactory creates a bot client for a token.
type BotFactory func(token string) (BotAPI, error)

func newBotAPI(token string) (BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// Transport talks to one Telegram chat.
type Transport struct {
	token   string
	chatID  int64
	factory BotFactory

	mu  sync.RWMutex
	bot BotAPI
}

// New returns a Telegram transport bound to chatID.
func New(token, chatID string) (*Transport, error) {
	return NewWithFactory(token, chatID, newBotAPI)
}

// NewWithFactory is New with a custom client constructor.
func NewWithFactory(token, chatID string, factory BotFactory) (*Transport, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, ErrInvalidChatID
	}
	return &Transport{token: token, chatID: id, factory: factory}, nil
}

// Name implements chat.Transport.
func (t *Transport) Name() string { return "telegram" }

// Connect implements chat.Transport.
func (t *Transport) Connect(_ context.Context) error {
	bot, err := t.factory(t.token)
	if err != nil {
		return util.WrapError("create telegram bot", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()
	return nil
}

func (t *Transport) client() (BotAPI, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.bot == nil {
		return nil, chat.ErrNotConnected
	}
	return t.bot, nil
}

// Send implements chat.Transport.
func (t *Transport) Send(_ context.Context, r control.Reply) error {
	bot, err := t.client()
	if err != nil {
		return err
	}
	c := t.chattable(r)
	_, err = bot.Send(c)
	if m, ok := c.(tgbotapi.MessageConfig); ok && m.ParseMode != "" && isParseError(err) {
		// Replies quote user input and error text that may not be valid
		// Markdown; resend those verbatim.
		slog.Debug("telegram rejected markdown, sending plain text", "error", err)
		m.ParseMode = ""
		_, err = bot.Send(m)
	}
	return err
}

// isParseError reports whether Telegram rejected a message for its markup.
func isParseError(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) &&
		apiErr.Code == http.StatusBadRequest &&
		strings.Contains(apiErr.Message, "can't parse entities")
}

func (t *Transport) chattable(r control.Reply) tgbotapi.Chattable {
	file := tgbotapi.FileBytes{Name: r.Filename, Bytes: r.Data}
	switch r.Kind {
	case control.ReplyVoice:
		v := tgbotapi.NewVoice(t.chatID, file)
		v.Caption = r.Text
		return v
	case control.ReplyAudio:
		a := tgbotapi.NewAudio(t.chatID, file)
		a.Caption = r.Text
		return a
	case control.ReplyPhoto:
		p := tgbotapi.NewPhoto(t.chatID, file)
		p.Caption = r.Text
		return p
	default:
		m := tgbotapi.NewMessage(t.chatID, r.Text)
		m.ParseMode = tgbotapi.ModeMarkdown
		return m
	}
}

// Receive implements chat.Transport. It long-polls for updates until ctx
// is done.
func (t *Transport) Receive(ctx context.Context, fn func(chat.Message)) error {
	bot, err := t.client()
	if err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := bot.GetUpdatesChan(u)
	defer bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			msg := chat.Message{
				ChatID:     strconv.FormatInt(update.Message.Chat.ID, 10),
				Text:       update.Message.Text,
				Authorized: update.Message.Chat.ID == t.chatID,
			}
			slog.Debug("telegram update", "chat_id", msg.ChatID, "authorized", msg.Authorized)
			fn(msg)
		}
	}
}

// Close implements chat.Transport.
func (t *Transport) Close() error {
	return nil
}
