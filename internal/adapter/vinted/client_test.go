package vinted_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/vinted"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

const catalogBody = `{"items":[
	{"id":"A","title":"Boot","price":{"amount":"12.50","currency_code":"EUR"},
	 "created_at_ts":1700000000,"photo":{"url":"p"},"brand_title":"Acme","size_title":"42"},
	{"id":123,"title":"Hat","price":{"amount":7,"currency_code":"EUR"},
	 "raw_timestamp":"1700000100","photo":null,"brand_title":""}
]}`

func newSession(t *testing.T) vinted.Session {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return vinted.Session{
		Client:    &http.Client{Jar: jar},
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Token:     "tok-1",
	}
}

func TestSearch_SuccessParsesItems(t *testing.T) {
	var gotAuth, gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		assert.NotEmpty(t, r.Header.Get("Sec-Ch-Ua"))
		assert.Equal(t, "shoes", r.URL.Query().Get("search_text"))
		assert.Equal(t, "20", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(catalogBody))
	}))
	defer srv.Close()

	counted := 0
	cli := vinted.New(func(context.Context) { counted++ })
	sess := newSession(t)

	out := cli.Search(context.Background(), sess, srv.URL+"/catalog?search_text=shoes&order=newest_first", 20)
	require.Equal(t, domain.OutcomeItems, out.Kind)
	require.Len(t, out.Items, 2)

	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, sess.UserAgent, gotUA)
	assert.Equal(t, "/api/v2/catalog/items", gotPath)
	assert.Equal(t, 1, counted)

	first := out.Items[0]
	assert.Equal(t, "A", first.ID)
	assert.Equal(t, "Boot", first.Title)
	assert.Equal(t, "12.50", first.Price)
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, int64(1700000000), first.PublishedTS)
	assert.Equal(t, "p", first.PhotoURL)
	assert.Equal(t, "Acme", first.BrandTitle)
	assert.Equal(t, "42", first.SizeTitle)

	second := out.Items[1]
	assert.Equal(t, "123", second.ID)
	assert.Equal(t, "7.00", second.Price)
	assert.Equal(t, int64(1700000100), second.PublishedTS)
	assert.Empty(t, second.PhotoURL)
}

func TestSearch_GzipResponseDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write([]byte(catalogBody))
		require.NoError(t, zw.Close())
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	cli := vinted.New(nil)
	out := cli.Search(context.Background(), newSession(t), srv.URL+"/catalog?search_text=x", 10)
	require.Equal(t, domain.OutcomeItems, out.Kind)
	require.Len(t, out.Items, 2)
	assert.Equal(t, "Boot", out.Items[0].Title)
}

func TestSearch_ItemURLFallsBackToHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(catalogBody))
	}))
	defer srv.Close()

	cli := vinted.New(nil)
	out := cli.Search(context.Background(), newSession(t), srv.URL+"/catalog?search_text=x", 10)
	require.Equal(t, domain.OutcomeItems, out.Kind)
	assert.Contains(t, out.Items[0].URL, "/items/A")
}

func TestSearch_AuthAndRateLimitComeBackAsData(t *testing.T) {
	for _, status := range []int{401, 403, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "denied", status)
		}))
		cli := vinted.New(nil)
		out := cli.Search(context.Background(), newSession(t), srv.URL+"/catalog?search_text=x", 10)
		srv.Close()

		require.Equal(t, domain.OutcomeHTTPError, out.Kind, "status %d", status)
		assert.Equal(t, status, out.Status)
		switch status {
		case 401, 403:
			assert.True(t, out.AuthRejected())
			assert.False(t, out.RateLimited())
		case 429:
			assert.True(t, out.RateLimited())
		default:
			assert.False(t, out.AuthRejected())
			assert.False(t, out.RateLimited())
		}
	}
}

func TestSearch_TransportError(t *testing.T) {
	cli := vinted.New(nil)
	out := cli.Search(context.Background(), newSession(t), "http://127.0.0.1:1/catalog?search_text=x", 10)
	require.Equal(t, domain.OutcomeTransport, out.Kind)
	assert.ErrorIs(t, out.Cause, domain.ErrUpstreamTransport)
}

func TestSearch_RepeatedCallsParseIdentically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(catalogBody))
	}))
	defer srv.Close()

	cli := vinted.New(nil)
	sess := newSession(t)
	a := cli.Search(context.Background(), sess, srv.URL+"/catalog?search_text=x", 10)
	b := cli.Search(context.Background(), sess, srv.URL+"/catalog?search_text=x", 10)
	require.Equal(t, domain.OutcomeItems, a.Kind)
	assert.Equal(t, a.Items, b.Items)
}

func TestAcquireToken_ReadsCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "document", r.Header.Get("Sec-Fetch-Dest"))
		http.SetCookie(w, &http.Cookie{Name: "access_token_web", Value: "jwt-123", Path: "/"})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	hc := &http.Client{Jar: jar}

	cli := vinted.New(nil)
	tok, err := cli.AcquireToken(context.Background(), hc, srv.URL, vinted.RandomUserAgent())
	require.NoError(t, err)
	assert.Equal(t, "jwt-123", tok)
}

func TestAcquireToken_MissingCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	cli := vinted.New(nil)
	_, err = cli.AcquireToken(context.Background(), &http.Client{Jar: jar}, srv.URL, vinted.RandomUserAgent())
	require.ErrorIs(t, err, domain.ErrTokenAcquisition)
}

func TestIsChromeFamily(t *testing.T) {
	assert.True(t, vinted.IsChromeFamily("Mozilla/5.0 ... Chrome/131.0.0.0 Safari/537.36"))
	assert.False(t, vinted.IsChromeFamily("Mozilla/5.0 ... Firefox/121.0"))
	assert.False(t, vinted.IsChromeFamily("Mozilla/5.0 ... Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0"))
}

func TestSetCommonHeaders_HintsMatchUA(t *testing.T) {
	cases := []struct {
		ua       string
		brands   string
		platform string
	}{
		{
			ua:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
			brands:   `v="130"`,
			platform: `"Windows"`,
		},
		{
			ua:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			brands:   `v="131"`,
			platform: `"macOS"`,
		},
		{
			ua:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
			brands:   `v="129"`,
			platform: `"Linux"`,
		},
	}
	for _, tc := range cases {
		h := http.Header{}
		vinted.SetCommonHeaders(h, tc.ua)
		assert.Contains(t, h.Get("Sec-Ch-Ua"), tc.brands, tc.ua)
		assert.Equal(t, tc.platform, h.Get("Sec-Ch-Ua-Platform"), tc.ua)
	}

	h := http.Header{}
	vinted.SetCommonHeaders(h, "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	assert.Empty(t, h.Get("Sec-Ch-Ua"))
	assert.Empty(t, h.Get("Accept-Encoding"))
}
