package graph

import "strings"

type colorPattern struct {
	area     string
	color    string
	keywords []string
}

// areaPatterns map common product areas to a stable feature color.
var areaPatterns = []colorPattern{
	{"Authentication", "#3b82f6", []string{"auth", "login", "signup", "password", "oauth", "session", "sso", "mfa"}},
	{"Billing & Payments", "#8b5cf6", []string{"payment", "stripe", "checkout", "subscription", "billing", "invoice", "pricing", "credit card"}},
	{"Data Layer", "#06b6d4", []string{"database", "postgres", "supabase", "sql", "query", "storage", "schema", "table", "record"}},
	{"Design System", "#ec4899", []string{"ui", "design", "component", "layout", "style", "theme", "dark mode", "css", "frontend", "ux"}},
	{"Backend API", "#10b981", []string{"api", "endpoint", "route", "handler", "backend", "server", "middleware", "controller"}},
	{"Notifications", "#f59e0b", []string{"email", "notification", "alert", "message", "sms", "push"}},
	{"Admin & Analytics", "#ef4444", []string{"admin", "dashboard", "analytics", "chart", "report", "metrics", "stats", "moderation"}},
	{"Onboarding", "#84cc16", []string{"onboarding", "tutorial", "guide", "welcome", "setup"}},
}

// extraColors is cycled through for features that match no known area.
var extraColors = []string{"#64748b", "#6366f1", "#14b8a6", "#f97316"}

// AreaOf returns the product area text talks about, such as
// "Authentication" or "Billing & Payments", and its color. ok is false when
// no area keyword occurs.
func AreaOf(text string) (area, color string, ok bool) {
	text = strings.ToLower(text)
	for _, p := range areaPatterns {
		for _, k := range p.keywords {
			if containsWord(text, k) {
				return p.area, p.color, true
			}
		}
	}
	return "", "", false
}

// ColorFor picks a feature color from its name and summary. seq selects
// from the extra palette when no area keyword matches.
func ColorFor(name, summary string, seq int) string {
	if _, color, ok := AreaOf(name + " " + summary); ok {
		return color
	}
	if seq < 0 {
		seq = -seq
	}
	return extraColors[seq%len(extraColors)]
}

// containsWord reports whether kw occurs in text starting at a word boundary.
// Short keywords like "ui" must not match inside "build".
func containsWord(text, kw string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], kw)
		if j < 0 {
			return false
		}
		pos := i + j
		if pos == 0 || !isLetter(text[pos-1]) {
			return true
		}
		i = pos + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
