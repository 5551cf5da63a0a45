// Package telegram adapts the Bot API SDK to the alert notifier and the
// remote command source: text and photo delivery plus long-polled updates.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

const (
	requestTimeout = 30 * time.Second
	// pollGrace is added to the long-poll timeout for the HTTP deadline.
	pollGrace = 10 * time.Second
	photoName = "alert.png"
)

// Update is an inbound text message.
type Update struct {
	ID     int64
	ChatID int64
	Text   string
}

// Client talks to one bot and one chat. Each call gets its own SDK handle
// bound to the caller's context; the SDK's own update loop is never started.
type Client struct {
	endpoint string
	token    string
	chat     tgbotapi.BaseChat
	http     *http.Client
}

// New creates a client. An empty baseURL uses DefaultBaseURL. A numeric chatID
// addresses a chat, anything else is sent as a channel username.
func New(baseURL, token, chatID string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/bot%s/%s",
		token:    token,
		chat:     chatFor(chatID),
		http:     &http.Client{},
	}
}

func chatFor(id string) tgbotapi.BaseChat {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return tgbotapi.BaseChat{ChatID: n}
	}
	return tgbotapi.BaseChat{ChannelUsername: id}
}

// SendText posts a message to the chat.
func (c *Client) SendText(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	api, call := c.bot(ctx)
	_, err := api.Send(tgbotapi.MessageConfig{BaseChat: c.chat, Text: text})
	return classify(err, call.status, "sendMessage", apperrors.Notifier)
}

// SendPhoto uploads f as a PNG with caption.
func (c *Client) SendPhoto(ctx context.Context, caption string, f *frame.Frame) error {
	data, err := f.PNG()
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "encode photo")
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	api, call := c.bot(ctx)
	_, err = api.Send(tgbotapi.PhotoConfig{
		BaseFile: tgbotapi.BaseFile{
			BaseChat: c.chat,
			File:     tgbotapi.FileBytes{Name: photoName, Bytes: data},
		},
		Caption: caption,
	})
	return classify(err, call.status, "sendPhoto", apperrors.Notifier)
}

// GetUpdates long-polls for messages with update_id >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+pollGrace)
	defer cancel()

	api, call := c.bot(ctx)
	raw, err := api.GetUpdates(tgbotapi.UpdateConfig{
		Offset:         int(offset),
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, classify(err, call.status, "getUpdates", apperrors.RemotePoll)
	}

	out := make([]Update, 0, len(raw))
	for _, r := range raw {
		u := Update{ID: int64(r.UpdateID)}
		if r.Message != nil {
			u.Text = r.Message.Text
			if r.Message.Chat != nil {
				u.ChatID = r.Message.Chat.ID
			}
		}
		out = append(out, u)
	}
	return out, nil
}

func (c *Client) bot(ctx context.Context) (*tgbotapi.BotAPI, *boundClient) {
	call := &boundClient{ctx: ctx, http: c.http}
	api := &tgbotapi.BotAPI{Token: c.token, Client: call, Buffer: 1}
	api.SetAPIEndpoint(c.endpoint)
	return api, call
}

// boundClient attaches ctx to every SDK request and remembers the last HTTP
// status, which the SDK drops when the body is not a Bot API envelope.
type boundClient struct {
	ctx    context.Context
	http   *http.Client
	status int
}

func (b *boundClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := b.http.Do(req.WithContext(b.ctx))
	if resp != nil {
		b.status = resp.StatusCode
	}
	return resp, err
}

// classify maps SDK errors onto error codes. Transport errors are unwrapped
// from url.Error so the request URL, which carries the token, never surfaces.
func classify(err error, status int, method string, fallback apperrors.Code) error {
	if err == nil {
		return nil
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return apperrors.Wrapf(err, apperrors.Timeout, "telegram %s", method)
		}
		return apperrors.Wrapf(err, apperrors.Unavailable, "telegram %s", method)
	}

	code := status
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		code = apiErr.Code
	}
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return apperrors.Wrapf(err, apperrors.Unavailable, "telegram %s: %d", method, code).
			WithMetadata("status", strconv.Itoa(code))
	case apiErr != nil || (code != 0 && code != http.StatusOK):
		return apperrors.Wrap(err, apperrors.Notifier, describe(method, code)).
			WithMetadata("status", strconv.Itoa(code))
	default:
		return apperrors.Wrapf(err, fallback, "telegram %s", method)
	}
}

func describe(method string, code int) string {
	if code == 0 {
		return "telegram " + method
	}
	return fmt.Sprintf("telegram %s: %d", method, code)
}
