// Package clients maps device user agents to the client types reported in
// cohort rows.
package clients

import "strings"

const (
	Electron     = "electron"
	Web          = "web"
	Android      = "android"
	AndroidRiotX = "android-riotx"
	IOS          = "ios"
	Other        = "other"

	// Missing marks agents that say nothing about the client a person used.
	Missing = ""
)

// Defaults is the client universe that always receives a row, even when empty.
func Defaults() []string {
	return []string{Android, AndroidRiotX, Electron, IOS, Web, Other}
}

// FromUserAgent classifies a user agent string. Server-side agents and empty
// values classify as Missing.
func FromUserAgent(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return Missing
	}

	switch {
	case strings.Contains(ua, "riot"), strings.Contains(ua, "element"):
		switch {
		case strings.Contains(ua, "electron"):
			return Electron
		case strings.Contains(ua, "android") && strings.Contains(ua, "riotx"):
			return AndroidRiotX
		case strings.Contains(ua, "android"):
			return Android
		case strings.Contains(ua, "ios"):
			return IOS
		}
	case strings.Contains(ua, "mozilla"), strings.Contains(ua, "gecko"):
		return Web
	case strings.Contains(ua, "synapse"),
		strings.Contains(ua, "okhttp"),
		strings.Contains(ua, "python-requests"):
		return Missing
	}
	return Other
}
