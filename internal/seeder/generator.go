// Package seeder generates realistic browser analytics traffic for testing
// and development.
package seeder

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

var eventNames = []string{
	"pageview", "pageview", "pageview", "pageview",
	"click", "scroll", "form_submit", "outbound_link",
}

var pagePaths = []string{
	"/", "/pricing", "/docs", "/docs/getting-started", "/blog",
	"/about", "/contact", "/signup", "/login", "/features",
}

var utmSources = []string{"google", "twitter", "newsletter", "producthunt"}

// Session is a browsing session that emits correlated events.
type Session struct {
	ID        string
	UserID    string
	Language  string
	ViewportW int
	ViewportH int
}

// NewSession creates a session with a stable identity.
func NewSession() *Session {
	viewports := [][2]int{{1920, 1080}, {1366, 768}, {414, 896}, {390, 844}, {768, 1024}}
	vp := viewports[gofakeit.Number(0, len(viewports)-1)]

	return &Session{
		ID:        uuid.NewString(),
		UserID:    gofakeit.Username(),
		Language:  gofakeit.RandomString([]string{"en-US", "en-GB", "de-DE", "fr-FR", "ja-JP"}),
		ViewportW: vp[0],
		ViewportH: vp[1],
	}
}

// GenerateEvent produces one raw event for this session. index and total
// spread event_time evenly across timeSpread ending at now.
func (s *Session) GenerateEvent(projectID string, index, total int, timeSpread time.Duration) map[string]any {
	offset := timeSpread
	if total > 1 {
		offset = timeSpread * time.Duration(total-1-index) / time.Duration(total-1)
	}
	eventTime := time.Now().Add(-offset)

	name := eventNames[gofakeit.Number(0, len(eventNames)-1)]
	path := pagePaths[gofakeit.Number(0, len(pagePaths)-1)]

	ev := map[string]any{
		"event":      name,
		"project_id": projectID,
		"event_time": eventTime.UnixMilli(),
		"session_id": s.ID,
		"user_id":    s.UserID,
		"page_url":   "https://" + gofakeit.DomainName() + path,
		"language":   s.Language,
		"viewport_w": s.ViewportW,
		"viewport_h": s.ViewportH,
	}

	if gofakeit.Bool() {
		ev["referrer"] = gofakeit.URL()
	}

	// Roughly a quarter of sessions arrive from a campaign.
	if gofakeit.Number(0, 3) == 0 {
		source := utmSources[gofakeit.Number(0, len(utmSources)-1)]
		ev["utm_source"] = source
		ev["utm_medium"] = gofakeit.RandomString([]string{"cpc", "email", "social"})
		ev["utm_campaign"] = fmt.Sprintf("%s-%d", gofakeit.HackerNoun(), gofakeit.Number(1, 99))
	}

	switch name {
	case "click":
		ev["target"] = gofakeit.RandomString([]string{"#signup-cta", "#nav-pricing", "#footer-docs"})
	case "scroll":
		ev["depth_pct"] = gofakeit.Number(10, 100)
	case "form_submit":
		ev["form_id"] = gofakeit.RandomString([]string{"contact", "signup", "newsletter"})
	case "outbound_link":
		ev["href"] = gofakeit.URL()
	}

	return ev
}
