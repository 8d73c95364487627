package gmailrest

import (
	"regexp"
	"strings"
)

var (
	hrefPattern = regexp.MustCompile(`href=["']([^"']+)["']`)
	urlPattern  = regexp.MustCompile(`https?://[^\s"'<>\)]+`)
)

// confirmationMarkers order link candidates; a link containing an earlier
// marker wins.
var confirmationMarkers = []string{
	"confirmation_token",
	"/users/confirmation",
	"confirm",
	"verify",
	"activate",
}

// ExtractConfirmationLink returns the most likely account-confirmation URL
// in a message body, or "" when none is present.
func ExtractConfirmationLink(body string) string {
	candidates := linkCandidates(body)
	if len(candidates) == 0 {
		return ""
	}

	for _, marker := range confirmationMarkers {
		for _, candidate := range candidates {
			if strings.Contains(strings.ToLower(candidate), marker) {
				return candidate
			}
		}
	}
	return candidates[0]
}

func linkCandidates(body string) []string {
	seen := map[string]bool{}
	var candidates []string

	add := func(raw string) {
		link := strings.TrimRight(raw, ".,;")
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		candidates = append(candidates, link)
	}

	for _, match := range hrefPattern.FindAllStringSubmatch(body, -1) {
		if strings.HasPrefix(match[1], "http") {
			add(match[1])
		}
	}
	for _, match := range urlPattern.FindAllString(body, -1) {
		add(match)
	}
	return candidates
}
