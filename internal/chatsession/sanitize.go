package chatsession

import (
	"regexp"
	"strings"
)

var (
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe = regexp.MustCompile(`\*(.+?)\*`)
	urlRe    = regexp.MustCompile(`https?://[^\s]+`)
)

// SanitizeHTML converts an untrusted reply into safe display HTML.
// Angle brackets are escaped before any markup is generated, so
// attacker-supplied tags can never survive while generated tags can
// never be escaped. Then newlines become <br>, **bold** and *italic*
// become strong/em, and bare http(s) URLs become links that open in a
// new tab.
func SanitizeHTML(text string) string {
	s := strings.ReplaceAll(text, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	s = strings.ReplaceAll(s, "\n", "<br>")

	s = boldRe.ReplaceAllString(s, "<strong>$1</strong>")
	s = italicRe.ReplaceAllString(s, "<em>$1</em>")

	// Runs last so a URL match never contains a raw angle bracket:
	// any "<" at this point belongs to a tag generated above, and
	// "&lt;"/"&gt;" mark escaped user input. Both end the URL.
	s = urlRe.ReplaceAllStringFunc(s, func(m string) string {
		url, rest := m, ""
		for _, stop := range []string{"<", "&lt;", "&gt;"} {
			if i := strings.Index(url, stop); i >= 0 {
				url, rest = url[:i], url[i:]+rest
			}
		}
		if url == "" {
			return m
		}
		return `<a href="` + url + `" target="_blank" rel="noopener noreferrer">` + url + `</a>` + rest
	})

	return s
}
