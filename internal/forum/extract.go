package forum

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var (
	// threadIDPattern matches viewthread links in listing markup. The
	// optional amp; handles entity-escaped hrefs.
	threadIDPattern = regexp.MustCompile(`mod=viewthread&(?:amp;)?tid=(\d+)`)

	// magnetPattern matches btih magnets with a 32 (base32) or 40 (hex)
	// character hash plus any trailing query parameters.
	magnetPattern = regexp.MustCompile(`magnet:\?xt=urn:btih:[0-9a-zA-Z]{32,50}[^\s"<>]*`)

	// titlePattern captures the document title across attribute and newline
	// variations.
	titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// ExtractThreadIDs pulls every distinct thread ID out of listing page markup,
// preserving first-seen order.
func ExtractThreadIDs(content string) []ThreadID {
	matches := threadIDPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	ids := make([]ThreadID, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, ThreadID(m[1]))
	}
	return ids
}

// ExtractMagnets pulls every distinct magnet URI out of thread page markup.
// Magnets are lowercased before dedup so hash-case variants collapse to one
// submission key; first-seen order is preserved.
func ExtractMagnets(content string) []string {
	matches := magnetPattern.FindAllString(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	magnets := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.ToLower(m)
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		magnets = append(magnets, m)
	}
	return magnets
}

// ExtractTitle returns the trimmed, entity-decoded document title from thread
// page markup, or "" when the markup has none.
func ExtractTitle(content string) string {
	m := titlePattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m[1]))
}

// ValidMagnet is the minimal shape check applied before submission: non-empty,
// magnet scheme, and an xt parameter present.
func ValidMagnet(s string) bool {
	return s != "" && strings.HasPrefix(s, "magnet:?") && strings.Contains(s, "xt=")
}

const displayNameMax = 50

// MagnetDisplayName returns a short human-readable label for a magnet, taken
// from its dn query parameter when present, otherwise a truncated prefix of
// the URI itself.
func MagnetDisplayName(magnet string) string {
	if query, ok := strings.CutPrefix(magnet, "magnet:?"); ok {
		if values, err := url.ParseQuery(query); err == nil {
			if dn := values.Get("dn"); dn != "" {
				return truncate(dn, displayNameMax)
			}
		}
	}
	return truncate(magnet, displayNameMax)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
