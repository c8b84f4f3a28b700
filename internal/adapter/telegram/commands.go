package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/vinted-notifier/internal/usecase"
)

const pollTimeout = 25

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		ThreadID  *int64 `json:"message_thread_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// Poller long-polls getUpdates and executes bot commands from the configured
// chat. Replies go back through the Sender.
type Poller struct {
	sender *Sender
	admin  *usecase.Admin
	// webURL is what /app answers with.
	webURL string
	offset int64
}

// NewPoller constructs the command poller.
func NewPoller(sender *Sender, admin *usecase.Admin, webURL string) *Poller {
	return &Poller{sender: sender, admin: admin, webURL: webURL}
}

// Run polls until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	if p.sender.token == "" {
		slog.Info("bot token absent, command poller disabled")
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := p.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("getUpdates failed", slog.Any("error", err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.handle(ctx, u)
		}
	}
}

func (p *Poller) fetchUpdates(ctx context.Context) ([]update, error) {
	form := url.Values{}
	form.Set("timeout", strconv.Itoa(pollTimeout))
	form.Set("offset", strconv.FormatInt(p.offset, 10))
	form.Set("allowed_updates", `["message"]`)

	resp, err := p.sender.call(ctx, "getUpdates", form)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("op=telegram.get_updates: api error %d: %s", resp.ErrorCode, resp.Description)
	}
	var updates []update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("op=telegram.get_updates: decode: %w", err)
	}
	return updates, nil
}

func (p *Poller) handle(ctx context.Context, u update) {
	if u.Message == nil || !strings.HasPrefix(u.Message.Text, "/") {
		return
	}
	if strconv.FormatInt(u.Message.Chat.ID, 10) != p.sender.chatID {
		slog.Warn("command from foreign chat ignored", slog.Int64("chat_id", u.Message.Chat.ID))
		return
	}

	fields := strings.Fields(u.Message.Text)
	cmd := strings.SplitN(fields[0], "@", 2)[0]
	args := fields[1:]
	threadID := u.Message.ThreadID

	reply := p.execute(ctx, cmd, args, threadID)
	if reply == "" {
		return
	}
	if err := p.sender.SendText(ctx, reply, threadID); err != nil {
		slog.Warn("command reply failed", slog.String("command", cmd), slog.Any("error", err))
	}
}

func (p *Poller) execute(ctx context.Context, cmd string, args []string, threadID *int64) string {
	switch cmd {
	case "/hello":
		return "Hello! The monitor is running."

	case "/app":
		if p.webURL == "" {
			return "No web address configured."
		}
		return "Web interface: " + p.webURL

	case "/add_query":
		if len(args) == 0 {
			return "Usage: /add_query <url> [name]"
		}
		name := ""
		if len(args) > 1 {
			name = strings.Join(args[1:], " ")
		}
		_, created, err := p.admin.AddQuery(ctx, args[0], name, threadID)
		if err != nil {
			return "Could not add query: " + err.Error()
		}
		if !created {
			return "Query already exists."
		}
		return "Query added."

	case "/remove_query":
		if len(args) == 0 {
			return "Usage: /remove_query <id|all>"
		}
		if err := p.admin.RemoveQuery(ctx, args[0]); err != nil {
			return "Could not remove query: " + err.Error()
		}
		if args[0] == "all" {
			return "All queries removed."
		}
		return "Query removed."

	case "/queries", "/queries_list":
		list, err := p.admin.FormattedQueryList(ctx)
		if err != nil {
			return "Could not list queries: " + err.Error()
		}
		if list == "" {
			return "No queries yet."
		}
		return list

	case "/allowlist":
		countries, err := p.admin.Allowlist(ctx)
		if err != nil {
			return "Could not read allowlist: " + err.Error()
		}
		if len(countries) == 0 {
			return "Allowlist empty, all countries allowed."
		}
		return "Allowed countries: " + strings.Join(countries, ", ")

	case "/add_country":
		if len(args) == 0 {
			return "Usage: /add_country <XX>"
		}
		countries, err := p.admin.AddCountry(ctx, args[0])
		if err != nil {
			return "Invalid country code."
		}
		return "Country added. Allowlist: " + strings.Join(countries, ", ")

	case "/remove_country":
		if len(args) == 0 {
			return "Usage: /remove_country <XX>"
		}
		countries, err := p.admin.RemoveCountry(ctx, args[0])
		if err != nil {
			return "Invalid country code."
		}
		if len(countries) == 0 {
			return "Country removed. Allowlist empty, all countries allowed."
		}
		return "Country removed. Allowlist: " + strings.Join(countries, ", ")

	case "/clear_allowlist":
		if err := p.admin.ClearAllowlist(ctx); err != nil {
			return "Could not clear allowlist: " + err.Error()
		}
		return "Allowlist cleared."

	case "/thread_id":
		if threadID == nil {
			return "This message has no thread."
		}
		return "Thread id: " + strconv.FormatInt(*threadID, 10)

	default:
		return ""
	}
}
