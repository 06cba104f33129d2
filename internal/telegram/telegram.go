// Package telegram validates bot tokens and discovers chats through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

// DefaultAPIURL is the Bot API root.
const DefaultAPIURL = "https://api.telegram.org"

var tokenPattern = regexp.MustCompile(`^\d{8,12}:[A-Za-z0-9_-]{35,}$`)

var (
	// ErrInvalidToken is returned for malformed tokens and tokens Telegram rejects.
	ErrInvalidToken = fmt.Errorf("%w: invalid telegram bot token", domain.ErrValidation)
	// ErrNoRecentChat is returned when the bot has not received any message yet.
	ErrNoRecentChat = fmt.Errorf("recent chat %w: send a message to the bot and try again", domain.ErrNotFound)
)

// Bot is the identity returned by getMe.
type Bot struct {
	ID       int64
	Username string
	Name     string
}

// Chat is a chat the bot has recently seen.
type Chat struct {
	ID       string
	Type     string
	Title    string
	Username string
}

// Client calls the Bot API on behalf of tokens supplied per request.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a Client. An empty baseURL selects DefaultAPIURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		endpoint:   strings.TrimSuffix(baseURL, "/") + "/bot%s/%s",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidTokenFormat reports whether token looks like a BotFather token.
func ValidTokenFormat(token string) bool {
	return tokenPattern.MatchString(strings.TrimSpace(token))
}

// ValidateToken checks the token format and asks Telegram who the bot is.
func (c *Client) ValidateToken(ctx context.Context, token string) (*Bot, error) {
	token = strings.TrimSpace(token)
	if !ValidTokenFormat(token) {
		return nil, fmt.Errorf("%w: expected format 123456789:ABCdef...", ErrInvalidToken)
	}

	api, err := c.open(ctx, token)
	if err != nil {
		return nil, err
	}
	if !api.Self.IsBot {
		return nil, fmt.Errorf("%w: check the token generated by BotFather", ErrInvalidToken)
	}

	return &Bot{
		ID:       api.Self.ID,
		Username: api.Self.UserName,
		Name:     api.Self.FirstName,
	}, nil
}

// ResolveChat returns the most recent chat found in the bot's pending updates.
func (c *Client) ResolveChat(ctx context.Context, token string) (*Chat, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token", domain.ErrMissingField)
	}

	api, err := c.open(ctx, token)
	if err != nil {
		return nil, err
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Limit = 10
	updates, err := api.GetUpdates(cfg)
	if err != nil {
		return nil, classify(err)
	}

	for i := len(updates) - 1; i >= 0; i-- {
		var chat *tgbotapi.Chat
		switch update := updates[i]; {
		case update.Message != nil:
			chat = update.Message.Chat
		case update.ChannelPost != nil:
			chat = update.ChannelPost.Chat
		}
		if chat != nil && chat.ID != 0 {
			return &Chat{
				ID:       strconv.FormatInt(chat.ID, 10),
				Type:     chat.Type,
				Title:    chat.Title,
				Username: chat.UserName,
			}, nil
		}
	}
	return nil, ErrNoRecentChat
}

// open binds a BotAPI to token. The library calls getMe while connecting.
func (c *Client) open(ctx context.Context, token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, contextClient{ctx: ctx, next: c.httpClient})
	if err != nil {
		return nil, classify(err)
	}
	return api, nil
}

// classify maps Bot API rejections to ErrInvalidToken and strips the
// request URL, which carries the token, from transport errors.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		desc := apiErr.Message
		if desc == "" {
			desc = "telegram rejected the request"
		}
		return fmt.Errorf("%w: %s", ErrInvalidToken, desc)
	}
	var urlErr interface{ Unwrap() error }
	if errors.As(err, &urlErr) {
		err = urlErr.Unwrap()
	}
	return fmt.Errorf("telegram request: %w", err)
}

// contextClient scopes the library's requests to the caller's context.
type contextClient struct {
	ctx  context.Context
	next *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.next.Do(req.WithContext(c.ctx))
}
