package message

import (
	"strings"

	"jobwatch/internal/domain"
)

// TitleWidth bounds the posting title in a notification.
const TitleWidth = 200

// Notification renders the match notice for one posting. The result is
// HTML and must be sent with ParseMode="HTML".
func Notification(kw domain.Keyword, p domain.Posting) string {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = "(untitled)"
	}
	origin := strings.TrimSpace(p.Origin)
	if origin == "" {
		origin = "unknown"
	}
	lines := []H{
		Esc(`🔔 New job match for "` + kw + `"!`),
		"",
		Esc("📋 " + Truncate(title, TitleWidth)),
		Esc("🏢 " + origin),
		Esc("🔗 " + p.URL),
	}
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.String())
	}
	return b.String()
}
