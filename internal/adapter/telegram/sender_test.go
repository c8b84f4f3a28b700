package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/repo/memstore"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
	"github.com/fairyhunter13/vinted-notifier/internal/usecase"
)

// botCall is one recorded Bot API request.
type botCall struct {
	Method string
	Query  map[string]string
}

// fakeBot replays scripted responses and records every call.
type fakeBot struct {
	mu        sync.Mutex
	calls     []botCall
	responses map[string][]string // method -> queued bodies, last repeats
	srv       *httptest.Server
}

func newFakeBot(t *testing.T) *fakeBot {
	t.Helper()
	fb := &fakeBot{responses: map[string][]string{}}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		// Parameters travel in the POST body, never the URL.
		assert.Empty(t, r.URL.RawQuery)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		q := map[string]string{}
		for k, v := range r.Form {
			q[k] = v[0]
		}

		fb.mu.Lock()
		fb.calls = append(fb.calls, botCall{Method: method, Query: q})
		body := `{"ok":true,"result":{}}`
		if queued := fb.responses[method]; len(queued) > 0 {
			body = queued[0]
			if len(queued) > 1 {
				fb.responses[method] = queued[1:]
			}
		}
		fb.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBot) queue(method string, bodies ...string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.responses[method] = bodies
}

func (fb *fakeBot) recorded() []botCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]botCall(nil), fb.calls...)
}

func newSender(t *testing.T, fb *fakeBot) (*Sender, chan domain.Notification, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	in := make(chan domain.Notification, 4)
	s := NewSender("test-token", "42", fb.srv.URL, store.Parameters(), in)
	return s, in, store
}

func TestSend_PhotoUsesSendPhotoWithCaption(t *testing.T) {
	fb := newFakeBot(t)
	s, _, _ := newSender(t, fb)

	threadID := int64(7)
	s.Send(context.Background(), domain.Notification{
		Text:       "<b>Boot</b>",
		URL:        "https://www.vinted.de/items/A",
		ButtonText: "Open Vinted",
		ThreadID:   &threadID,
		PhotoURL:   "https://img.test/p.jpg",
	})

	calls := fb.recorded()
	require.Len(t, calls, 1)
	c := calls[0]
	assert.Equal(t, "sendPhoto", c.Method)
	assert.Equal(t, "42", c.Query["chat_id"])
	assert.Equal(t, "HTML", c.Query["parse_mode"])
	assert.Equal(t, "<b>Boot</b>", c.Query["caption"])
	assert.Equal(t, "https://img.test/p.jpg", c.Query["photo"])
	assert.Equal(t, "7", c.Query["message_thread_id"])

	var markup struct {
		InlineKeyboard [][]map[string]string `json:"inline_keyboard"`
	}
	require.NoError(t, json.Unmarshal([]byte(c.Query["reply_markup"]), &markup))
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, "Open Vinted", markup.InlineKeyboard[0][0]["text"])
	assert.Equal(t, "https://www.vinted.de/items/A", markup.InlineKeyboard[0][0]["url"])
}

func TestSend_TextWithoutPhotoUsesSendMessage(t *testing.T) {
	fb := newFakeBot(t)
	s, _, _ := newSender(t, fb)

	s.Send(context.Background(), domain.Notification{Text: "hi", URL: "https://x.test", ButtonText: "Open Vinted"})

	calls := fb.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].Method)
	assert.Equal(t, "hi", calls[0].Query["text"])
	_, hasThread := calls[0].Query["message_thread_id"]
	assert.False(t, hasThread)
}

func TestSend_FloodControlWaitsAndRetries(t *testing.T) {
	fb := newFakeBot(t)
	fb.queue("sendMessage",
		`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":-2}}`,
		`{"ok":true,"result":{}}`)
	s, _, _ := newSender(t, fb)

	// retry_after is negative so the +2 wait stays near zero in tests.
	s.Send(context.Background(), domain.Notification{Text: "hi"})

	calls := fb.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Query["text"], calls[1].Query["text"])
}

func TestSend_ThreadFailureFallsBackToMainChat(t *testing.T) {
	fb := newFakeBot(t)
	fb.queue("sendMessage",
		`{"ok":false,"error_code":400,"description":"message thread not found"}`,
		`{"ok":true,"result":{}}`)
	s, _, _ := newSender(t, fb)

	threadID := int64(9)
	s.Send(context.Background(), domain.Notification{Text: "hi", ThreadID: &threadID})

	calls := fb.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "9", calls[0].Query["message_thread_id"])
	_, hasThread := calls[1].Query["message_thread_id"]
	assert.False(t, hasThread)
}

func TestSend_DisabledDropsMessage(t *testing.T) {
	fb := newFakeBot(t)
	s, _, _ := newSender(t, fb)

	require.NoError(t, s.Stop(context.Background()))
	s.Send(context.Background(), domain.Notification{Text: "hi"})
	assert.Empty(t, fb.recorded())

	require.NoError(t, s.Start(context.Background()))
	s.Send(context.Background(), domain.Notification{Text: "hi"})
	assert.Len(t, fb.recorded(), 1)
}

func TestRun_DrainsChannel(t *testing.T) {
	fb := newFakeBot(t)
	s, in, _ := newSender(t, fb)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	in <- domain.Notification{Text: "one"}
	in <- domain.Notification{Text: "two"}

	require.Eventually(t, func() bool { return len(fb.recorded()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestPoller_HandlesCommands(t *testing.T) {
	fb := newFakeBot(t)
	s, _, store := newSender(t, fb)
	admin := usecase.NewAdmin(store)
	p := NewPoller(s, admin, "https://admin.test")

	makeUpdate := func(id int64, text string) string {
		u := map[string]any{
			"ok": true,
			"result": []map[string]any{{
				"update_id": id,
				"message": map[string]any{
					"message_id": 1,
					"text":       text,
					"chat":       map[string]any{"id": 42},
				},
			}},
		}
		b, err := json.Marshal(u)
		require.NoError(t, err)
		return string(b)
	}

	fb.queue("getUpdates",
		makeUpdate(100, "/add_query https://x.test/catalog?search_text=shoes Shoes"),
		makeUpdate(101, "/queries"),
		`{"ok":true,"result":[]}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for _, c := range fb.recorded() {
			if c.Method == "sendMessage" && c.Query["text"] == "1. Shoes" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	queries, err := admin.ListQueries(context.Background())
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "Shoes", queries[0].Name)

	// Offset advanced past the handled updates.
	var sawOffset bool
	for _, c := range fb.recorded() {
		if c.Method == "getUpdates" && c.Query["offset"] == "102" {
			sawOffset = true
		}
	}
	assert.True(t, sawOffset)
}

func TestPoller_IgnoresForeignChat(t *testing.T) {
	fb := newFakeBot(t)
	s, _, store := newSender(t, fb)
	p := NewPoller(s, usecase.NewAdmin(store), "")

	fb.queue("getUpdates",
		`{"ok":true,"result":[{"update_id":1,"message":{"message_id":1,"text":"/hello","chat":{"id":999}}}]}`,
		`{"ok":true,"result":[]}`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	for _, c := range fb.recorded() {
		assert.NotEqual(t, "sendMessage", c.Method)
	}
}

func TestPoller_ThreadIDEcho(t *testing.T) {
	fb := newFakeBot(t)
	s, _, store := newSender(t, fb)
	p := NewPoller(s, usecase.NewAdmin(store), "")

	fb.queue("getUpdates",
		`{"ok":true,"result":[{"update_id":1,"message":{"message_id":1,"text":"/thread_id","message_thread_id":77,"chat":{"id":42}}}]}`,
		`{"ok":true,"result":[]}`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for _, c := range fb.recorded() {
			if c.Method == "sendMessage" && c.Query["text"] == "Thread id: 77" && c.Query["message_thread_id"] == "77" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
