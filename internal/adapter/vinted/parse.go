package vinted

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// flexString tolerates upstream fields that arrive as either JSON strings or
// numbers (item ids and price amounts do both across locales).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt64 tolerates numeric timestamps sent as strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = flexInt64(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

type apiPhoto struct {
	URL string `json:"url"`
}

type apiPrice struct {
	Amount       flexString `json:"amount"`
	CurrencyCode string     `json:"currency_code"`
}

type apiItem struct {
	ID           flexString `json:"id"`
	Title        string     `json:"title"`
	Price        apiPrice   `json:"price"`
	Photo        *apiPhoto  `json:"photo"`
	BrandTitle   string     `json:"brand_title"`
	SizeTitle    string     `json:"size_title"`
	URL          string     `json:"url"`
	CreatedAtTS  flexInt64  `json:"created_at_ts"`
	RawTimestamp flexInt64  `json:"raw_timestamp"`
}

type apiResponse struct {
	Items []apiItem `json:"items"`
}

// parseItems decodes a catalog response body into domain items. scheme/host
// come from the search URL and back the per-item fallback link.
func parseItems(body []byte, scheme, host string) ([]domain.Item, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("op=vinted.parse_items: %w", err)
	}
	out := make([]domain.Item, 0, len(resp.Items))
	for _, a := range resp.Items {
		if a.ID == "" {
			continue
		}
		ts := int64(a.CreatedAtTS)
		if ts == 0 {
			ts = int64(a.RawTimestamp)
		}
		itemURL := a.URL
		if itemURL == "" {
			itemURL = scheme + "://" + host + "/items/" + string(a.ID)
		}
		it := domain.Item{
			ID:          string(a.ID),
			Title:       a.Title,
			Price:       FormatPrice(string(a.Price.Amount)),
			Currency:    a.Price.CurrencyCode,
			URL:         itemURL,
			BrandTitle:  a.BrandTitle,
			SizeTitle:   a.SizeTitle,
			PublishedTS: ts,
		}
		if a.Photo != nil {
			it.PhotoURL = a.Photo.URL
		}
		out = append(out, it)
	}
	return out, nil
}

// FormatPrice renders a decimal amount with exactly two fractional digits.
// Malformed amounts come back unchanged.
func FormatPrice(amount string) string {
	if amount == "" {
		return "0.00"
	}
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return amount
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
