package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"pbpwatch/internal/transport"
	logx "pbpwatch/pkg/logx"
)

const (
	defaultAPIURL = "https://api.telegram.org"
	pageLimit     = 100
	fallbackName  = "Someone"
)

type Config struct {
	Token  string
	APIURL string
	// GroupID is the forum supergroup; messages from other chats are ignored.
	GroupID int64
	// Topics are the monitored PBP topic ids.
	Topics      []int
	PollTimeout time.Duration
	// HTTPTimeout caps a single request; callers' contexts usually cut earlier.
	HTTPTimeout time.Duration
}

// Client pulls updates with getUpdates and posts alerts with sendMessage.
// It implements transport.EventSource and transport.AlertSink.
//
// Both calls go through a plain HTTP client so they honour the caller's
// context; payloads are decoded into telebot's Bot API types.
type Client struct {
	cfg    Config
	http   *http.Client
	topics map[int]struct{}
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = cfg.PollTimeout + 30*time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	topics := make(map[int]struct{}, len(cfg.Topics))
	for _, id := range cfg.Topics {
		topics[id] = struct{}{}
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		topics: topics,
		log:    log.With(logx.Component("telegram")),
	}, nil
}

// FetchEvents returns monitored posts with update id > after.
//
// Exactly one page is requested. Telegram forgets every update below the
// offset of a getUpdates call, so asking for a second page would drop the
// first before its cursor is saved. A larger backlog drains over later runs.
func (c *Client) FetchEvents(ctx context.Context, after int64) (transport.Batch, error) {
	ups, err := c.getUpdates(ctx, after+1)
	if err != nil {
		return transport.Batch{}, err
	}

	var batch transport.Batch
	for _, u := range ups {
		id := int64(u.ID)
		if id <= after {
			continue
		}
		if id > batch.HighWater {
			batch.HighWater = id
		}
		if ev, ok := c.toEvent(u); ok {
			batch.Events = append(batch.Events, ev)
		}
	}
	if len(ups) >= pageLimit {
		c.log.Info("update backlog exceeds one page; remainder deferred to next run", logx.Int64("high_water", batch.HighWater))
	}
	c.log.Debug("updates fetched", logx.Int64("after", after), logx.Int("updates", len(ups)),
		logx.Int("events", len(batch.Events)), logx.Int64("high_water", batch.HighWater))
	return batch, nil
}

func (c *Client) toEvent(u tele.Update) (transport.Event, bool) {
	m := u.Message
	if m == nil || m.Chat == nil || m.Chat.ID != c.cfg.GroupID {
		return transport.Event{}, false
	}
	if _, ok := c.topics[m.ThreadID]; !ok {
		return transport.Event{}, false
	}
	if m.Sender == nil || m.Sender.IsBot {
		return transport.Event{}, false
	}
	return transport.Event{
		ThreadID: strconv.Itoa(m.ThreadID),
		Author:   displayName(m.Sender),
		Time:     m.Time().UTC(),
		UpdateID: int64(u.ID),
	}, true
}

func displayName(u *tele.User) string {
	if n := strings.TrimSpace(u.FirstName); n != "" {
		return n
	}
	if n := strings.TrimSpace(u.Username); n != "" {
		return "@" + n
	}
	return fallbackName
}

func (c *Client) getUpdates(ctx context.Context, offset int64) ([]tele.Update, error) {
	var out []tele.Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           pageLimit,
		"timeout":         int(c.cfg.PollTimeout / time.Second),
		"allowed_updates": []string{"message"},
	}, &out)
	return out, err
}

// SendText posts text into a forum topic. ctx bounds the whole request.
func (c *Client) SendText(ctx context.Context, to transport.ChatTarget, text string) error {
	params := map[string]any{
		"chat_id":              to.ChatID,
		"text":                 text,
		"link_preview_options": map[string]bool{"is_disabled": true},
	}
	if to.ThreadID != 0 {
		params["message_thread_id"] = to.ThreadID
	}
	var msg tele.Message
	return c.call(ctx, "sendMessage", params, &msg)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// call posts a JSON payload to a Bot API method and decodes result into out.
func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return err
	}
	url := c.cfg.APIURL + "/bot" + c.cfg.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return redact(err, c.cfg.Token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return redact(err, c.cfg.Token)
	}
	defer resp.Body.Close()

	var r apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("telegram %s: decode: %w (http=%d)", method, redact(err, c.cfg.Token), resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 || !r.OK {
		return fmt.Errorf("telegram %s failed: %s (code=%d http=%d)", method, r.Description, r.ErrorCode, resp.StatusCode)
	}
	if out != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("telegram %s: result: %w", method, err)
		}
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// redact strips the bot token, which net/http errors embed via the URL.
// The original error stays reachable for errors.Is.
func redact(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
