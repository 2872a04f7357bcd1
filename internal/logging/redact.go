package logging

import (
	"net/url"
	"regexp"
)

var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// RedactURL hides the password of a broker or database URL so it can be
// logged. Key/value DSNs ("host=db password=secret") are handled too.
func RedactURL(raw string) string {
	if raw == "" {
		return "<empty>"
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return dsnPassword.ReplaceAllString(raw, "${1}xxxxx")
	}
	return u.Redacted()
}
