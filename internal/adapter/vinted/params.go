package vinted

import (
	"net/url"
	"strconv"
	"strings"
)

// arrayParams maps the catalog URL's bracketed array keys to the API field
// names they become.
var arrayParams = map[string]string{
	"catalog[]":                 "catalog_ids",
	"color_ids[]":               "color_ids",
	"brand_ids[]":               "brand_ids",
	"size_ids[]":                "size_ids",
	"material_ids[]":            "material_ids",
	"status_ids[]":              "status_ids",
	"country_ids[]":             "country_ids",
	"city_ids[]":                "city_ids",
	"video_game_platform_ids[]": "video_game_platform_ids",
}

// scalarParams pass through under the same name.
var scalarParams = []string{"price_from", "price_to", "currency", "order"}

// BuildAPIParams translates a catalog search URL's query string into the
// parameter set of the /api/v2/catalog/items endpoint.
func BuildAPIParams(searchURL *url.URL, perPage, page int) url.Values {
	q := searchURL.Query()
	out := url.Values{}

	if texts, ok := q["search_text"]; ok {
		out.Set("search_text", strings.Join(texts, "+"))
	}
	for urlKey, apiKey := range arrayParams {
		if vals, ok := q[urlKey]; ok && len(vals) > 0 {
			out.Set(apiKey, strings.Join(vals, ","))
		}
	}
	for _, k := range scalarParams {
		if v := q.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	// Swap-only filter is expressed as a presence flag in the URL.
	if _, ok := q["disposal[]"]; ok {
		out.Set("is_for_swap", "1")
	}
	out.Set("page", strconv.Itoa(page))
	out.Set("per_page", strconv.Itoa(perPage))
	return out
}
