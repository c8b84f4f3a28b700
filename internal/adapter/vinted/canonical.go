package vinted

import (
	"fmt"
	"net/url"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// droppedParams are stripped during canonicalization: they are session- or
// pagination-scoped and would make otherwise equal searches distinct.
var droppedParams = []string{"time", "search_id", "disabled_personalization", "page"}

// Canonicalize normalizes a saved-search URL: order=newest_first is forced,
// volatile parameters are dropped and the query string is rebuilt in sorted
// key order so the result is stable. Canonicalize is idempotent.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("op=vinted.canonicalize: %w: %v", domain.ErrInvalidArgument, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("op=vinted.canonicalize: %w: not an absolute URL", domain.ErrInvalidArgument)
	}
	q := u.Query()
	q.Set("order", "newest_first")
	for _, k := range droppedParams {
		q.Del(k)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}
