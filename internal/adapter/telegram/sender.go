// Package telegram delivers notifications through the Bot API and serves the
// bot command surface.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

const defaultAPIBase = "https://api.telegram.org"

// apiResponse is the envelope every Bot API call returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Sender drains the notifier channel single-flight. Photo notifications go
// out as sendPhoto with a caption, the rest as sendMessage; every message
// carries parse_mode=HTML and one inline button.
type Sender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	params  domain.ParameterRepository
	in      <-chan domain.Notification
}

// NewSender constructs a Sender. baseURL is overridable for tests; empty
// selects the real Bot API.
func NewSender(token, chatID, baseURL string, params domain.ParameterRepository, in <-chan domain.Notification) *Sender {
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &Sender{
		token:   token,
		chatID:  chatID,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 40 * time.Second},
		params:  params,
		in:      in,
	}
}

// Run delivers notifications until the context is canceled.
func (s *Sender) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.in:
			s.Send(ctx, n)
		}
	}
}

// Enabled reports whether delivery is switched on. The flag lives in the
// parameters table so the admin surface can flip it at runtime.
func (s *Sender) Enabled(ctx context.Context) bool {
	v, err := s.params.Get(ctx, domain.ParamTelegramEnabled)
	if err != nil {
		return true
	}
	return v != "false" && v != "False" && v != "0"
}

// Start switches delivery on.
func (s *Sender) Start(ctx context.Context) error {
	return s.params.Set(ctx, domain.ParamTelegramEnabled, "true")
}

// Stop switches delivery off. Queued notifications are dropped on arrival
// while stopped.
func (s *Sender) Stop(ctx context.Context) error {
	return s.params.Set(ctx, domain.ParamTelegramEnabled, "false")
}

// Send delivers one notification, honoring flood control and falling back to
// the main chat when a topic rejects the message.
func (s *Sender) Send(ctx context.Context, n domain.Notification) {
	if s.token == "" || s.chatID == "" {
		observability.NotificationsTotal.WithLabelValues("skipped").Inc()
		return
	}
	if !s.Enabled(ctx) {
		observability.NotificationsTotal.WithLabelValues("disabled").Inc()
		return
	}

	err := s.deliver(ctx, n, n.ThreadID)
	if err != nil && n.ThreadID != nil {
		slog.Warn("thread delivery failed, falling back to main chat",
			slog.Int64("thread_id", *n.ThreadID), slog.Any("error", err))
		err = s.deliver(ctx, n, nil)
	}
	if err != nil {
		observability.NotificationsTotal.WithLabelValues("error").Inc()
		slog.Error("notification delivery failed", slog.Any("error", err))
		return
	}
	observability.NotificationsTotal.WithLabelValues("sent").Inc()
}

// errFlood marks a 429 from the Bot API.
var errFlood = errors.New("telegram flood control")

// deliver posts the message, retrying the same payload after flood-control
// waits until the context is canceled.
func (s *Sender) deliver(ctx context.Context, n domain.Notification, threadID *int64) error {
	for {
		retryAfter, err := s.post(ctx, n, threadID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errFlood) {
			return err
		}
		wait := time.Duration(retryAfter+2) * time.Second
		if wait < 0 {
			wait = 0
		}
		slog.Warn("flood control, waiting before retry", slog.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sender) post(ctx context.Context, n domain.Notification, threadID *int64) (retryAfter int, err error) {
	method := "sendMessage"
	form := url.Values{}
	form.Set("chat_id", s.chatID)
	form.Set("parse_mode", "HTML")
	if n.PhotoURL != "" {
		method = "sendPhoto"
		form.Set("photo", n.PhotoURL)
		form.Set("caption", n.Text)
	} else {
		form.Set("text", n.Text)
	}
	if threadID != nil {
		form.Set("message_thread_id", strconv.FormatInt(*threadID, 10))
	}
	if n.URL != "" {
		markup, merr := json.Marshal(map[string]any{
			"inline_keyboard": [][]map[string]string{{{"text": n.ButtonText, "url": n.URL}}},
		})
		if merr != nil {
			return 0, fmt.Errorf("op=telegram.post: %w", merr)
		}
		form.Set("reply_markup", string(markup))
	}

	resp, err := s.call(ctx, method, form)
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		if resp.ErrorCode == http.StatusTooManyRequests {
			return resp.Parameters.RetryAfter, fmt.Errorf("op=telegram.post: %w: %s", errFlood, resp.Description)
		}
		return 0, fmt.Errorf("op=telegram.post: api error %d: %s", resp.ErrorCode, resp.Description)
	}
	return 0, nil
}

// call posts one Bot API method with a form-encoded body and decodes the
// envelope.
func (s *Sender) call(ctx context.Context, method string, form url.Values) (*apiResponse, error) {
	endpoint := s.baseURL + "/bot" + s.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("op=telegram.call method=%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=telegram.call method=%s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("op=telegram.call method=%s: read body: %w", method, err)
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("op=telegram.call method=%s: decode: %w", method, err)
	}
	return &out, nil
}

// SendText posts a plain HTML message to the configured chat. The command
// poller replies through this.
func (s *Sender) SendText(ctx context.Context, text string, threadID *int64) error {
	form := url.Values{}
	form.Set("chat_id", s.chatID)
	form.Set("parse_mode", "HTML")
	form.Set("text", text)
	if threadID != nil {
		form.Set("message_thread_id", strconv.FormatInt(*threadID, 10))
	}
	resp, err := s.call(ctx, "sendMessage", form)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("op=telegram.send_text: api error %d: %s", resp.ErrorCode, resp.Description)
	}
	return nil
}
