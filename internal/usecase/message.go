package usecase

import (
	"fmt"
	"html"
	"strings"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// maxLatency bounds the discovery-latency annotation. Older timestamps are
// usually the photo upload time, not the listing time, so they are omitted.
const maxLatency = 3600

// FormatLatency renders the publication-to-discovery delay as "+Ns", "+Nm"
// or "+1h". It returns "" for negative delays (clock skew) and delays over an
// hour.
func FormatLatency(publishedTS, foundTS int64) string {
	if publishedTS <= 0 || foundTS <= 0 {
		return ""
	}
	delay := foundTS - publishedTS
	if delay < 0 || delay > maxLatency {
		return ""
	}
	switch {
	case delay < 60:
		return fmt.Sprintf("+%ds", delay)
	case delay < 3600:
		return fmt.Sprintf("+%dm", delay/60)
	default:
		return fmt.Sprintf("+%dh", delay/3600)
	}
}

// BuildNotification formats one discovered item for Telegram. Layout: bold
// title, bold price line with an optional latency annotation, a chain-link
// size line when the item carries a size, the brand, and an invisible anchor
// that makes Telegram render the photo as a link preview.
func BuildNotification(it domain.Item, threadID *int64) domain.Notification {
	price := "💶" + it.Price + " " + it.Currency
	if suffix := FormatLatency(it.PublishedTS, it.FoundTS); suffix != "" {
		price += " (" + suffix + ")"
	}

	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(it.Title) + "</b>\n")
	b.WriteString("<b>" + price + "</b>\n")
	if strings.TrimSpace(it.SizeTitle) != "" {
		b.WriteString("⛓️ " + html.EscapeString(it.SizeTitle) + "\n")
	}
	b.WriteString(html.EscapeString(it.BrandTitle))
	if it.PhotoURL != "" {
		b.WriteString("\n<a href='" + it.PhotoURL + "'>&#8205;</a>")
	}

	return domain.Notification{
		Text:       b.String(),
		URL:        it.URL,
		ButtonText: "Open Vinted",
		ThreadID:   threadID,
		PhotoURL:   it.PhotoURL,
	}
}
