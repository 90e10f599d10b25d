package provision

import (
	"regexp"
	"strings"
)

// Basic local@domain.tld shape. Deliberately loose: the identity service does
// its own verification, this only catches transcription garbage early enough
// to re-prompt the user.
var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NormalizeEmail lowercases and trims the input and collapses spoken artifacts
// ("jane at example dot com") into a plain address. Returns the normalized
// address and whether it passes the shape check.
func NormalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))

	email = strings.ReplaceAll(email, " at ", "@")
	email = strings.ReplaceAll(email, " dot ", ".")
	email = strings.ReplaceAll(email, " ", "")

	return email, emailShape.MatchString(email)
}
