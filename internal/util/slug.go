package util

import (
	"strings"
)

// maxSlugLen keeps generated slugs short enough that a channel name with
// prefix and suffix stays under Slack's 80-character limit.
const maxSlugLen = 40

// ChannelSlug converts a project name into a Slack-compatible channel
// fragment: lowercase, alphanumeric and dashes only, no leading/trailing
// or doubled dashes, truncated at a word boundary.
func ChannelSlug(name string) string {
	if name == "" {
		return "session"
	}

	slug := strings.ToLower(name)

	// Slack channel names allow [a-z0-9-_]; everything else becomes a dash.
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	slug = b.String()

	// Collapse dash runs and trim the ends.
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")

	if slug == "" {
		return "session"
	}

	// Truncate at a word boundary when possible.
	if len(slug) > maxSlugLen {
		truncated := slug[:maxSlugLen]
		if lastDash := strings.LastIndex(truncated, "-"); lastDash > maxSlugLen/2 {
			truncated = truncated[:lastDash]
		}
		slug = strings.Trim(truncated, "-")
	}

	return slug
}
