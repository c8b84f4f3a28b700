package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/vinted"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// Admin groups the management operations shared by the web surface and the
// bot commands.
type Admin struct {
	store domain.Store
}

// NewAdmin constructs the admin operations over the store.
func NewAdmin(store domain.Store) *Admin {
	return &Admin{store: store}
}

// AddQuery canonicalizes a search URL and saves it, rejecting duplicates.
// It reports whether a new query was created.
func (a *Admin) AddQuery(ctx context.Context, rawURL, name string, threadID *int64) (domain.Query, bool, error) {
	canonical, err := vinted.Canonicalize(rawURL)
	if err != nil {
		return domain.Query{}, false, err
	}

	if existing, err := a.store.Queries().GetByURL(ctx, canonical); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Query{}, false, err
	}

	q := domain.Query{URL: canonical, Name: strings.TrimSpace(name), ThreadID: threadID}
	id, err := a.store.Queries().Create(ctx, q)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			existing, gerr := a.store.Queries().GetByURL(ctx, canonical)
			if gerr == nil {
				return existing, false, nil
			}
		}
		return domain.Query{}, false, err
	}
	q.ID = id
	return q, true, nil
}

// RemoveQuery deletes one query by id, or every query when id is "all".
func (a *Admin) RemoveQuery(ctx context.Context, id string) error {
	if id == "all" {
		return a.store.Queries().DeleteAll(ctx)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("op=admin.remove_query: bad id %q: %w", id, domain.ErrInvalidArgument)
	}
	return a.store.Queries().Delete(ctx, n)
}

// ListQueries returns all saved searches.
func (a *Admin) ListQueries(ctx context.Context) ([]domain.Query, error) {
	return a.store.Queries().List(ctx)
}

// QueryDisplayName returns the admin-facing label for a query: its name if
// set, else the search text from its URL, else the URL itself.
func QueryDisplayName(q domain.Query) string {
	if q.Name != "" {
		return q.Name
	}
	if u, err := url.Parse(q.URL); err == nil {
		if text := u.Query().Get("search_text"); text != "" {
			return text
		}
	}
	return q.URL
}

// FormattedQueryList renders a numbered list of query labels for the bot.
func (a *Admin) FormattedQueryList(ctx context.Context) (string, error) {
	queries, err := a.store.Queries().List(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, q := range queries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i+1) + ". " + QueryDisplayName(q))
	}
	return b.String(), nil
}

// UpdateQuery rewrites a query's URL (canonicalized) and name.
func (a *Admin) UpdateQuery(ctx context.Context, id int64, rawURL, name string) error {
	q, err := a.store.Queries().Get(ctx, id)
	if err != nil {
		return err
	}
	if rawURL != "" {
		canonical, cerr := vinted.Canonicalize(rawURL)
		if cerr != nil {
			return cerr
		}
		q.URL = canonical
	}
	if name != "" {
		q.Name = strings.TrimSpace(name)
	}
	return a.store.Queries().Update(ctx, q)
}

// UpdateThreadID points a query's notifications at a Telegram topic.
func (a *Admin) UpdateThreadID(ctx context.Context, id int64, threadID *int64) error {
	return a.store.Queries().UpdateThreadID(ctx, id, threadID)
}

// ClearAllItems wipes the found-items table.
func (a *Admin) ClearAllItems(ctx context.Context) error {
	return a.store.Items().DeleteAll(ctx)
}

// Items lists stored items, optionally scoped to one query URL.
func (a *Admin) Items(ctx context.Context, queryURL string, limit int) ([]domain.Item, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return a.store.Items().List(ctx, queryURL, limit)
}

// normalizeCountry validates an ISO 3166-1 alpha-2 code.
func normalizeCountry(country string) (string, error) {
	c := strings.ToUpper(strings.ReplaceAll(country, " ", ""))
	if len(c) != 2 {
		return "", fmt.Errorf("op=admin.country: %q is not a 2-letter code: %w", country, domain.ErrInvalidArgument)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("op=admin.country: %q is not a 2-letter code: %w", country, domain.ErrInvalidArgument)
		}
	}
	return c, nil
}

// AddCountry adds a country to the allowlist. Adding an existing country is
// not an error.
func (a *Admin) AddCountry(ctx context.Context, country string) ([]string, error) {
	c, err := normalizeCountry(country)
	if err != nil {
		return nil, err
	}
	if err := a.store.Allowlist().Add(ctx, c); err != nil && !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}
	return a.store.Allowlist().List(ctx)
}

// RemoveCountry removes a country from the allowlist.
func (a *Admin) RemoveCountry(ctx context.Context, country string) ([]string, error) {
	c, err := normalizeCountry(country)
	if err != nil {
		return nil, err
	}
	if err := a.store.Allowlist().Remove(ctx, c); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return a.store.Allowlist().List(ctx)
}

// Allowlist returns the permitted countries; empty means all allowed.
func (a *Admin) Allowlist(ctx context.Context) ([]string, error) {
	return a.store.Allowlist().List(ctx)
}

// ClearAllowlist empties the allowlist.
func (a *Admin) ClearAllowlist(ctx context.Context) error {
	return a.store.Allowlist().Clear(ctx)
}
