package policy

import (
	"net/url"
	"regexp"
)

var (
	emailPattern  = regexp.MustCompile(`([a-zA-Z0-9._%+\-])[a-zA-Z0-9._%+\-]*@([a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.=]+`)
)

var credentialParams = []string{"token", "access_token", "password"}

// RedactEmail keeps the first character and the domain so log lines stay
// correlatable without carrying the full address.
func RedactEmail(input string) string {
	return emailPattern.ReplaceAllString(input, "${1}***@${2}")
}

// RedactCredentials masks bearer tokens and credential query parameters in
// values destined for logs. It reports whether anything changed.
func RedactCredentials(input string) (redacted string, changed bool) {
	out := bearerPattern.ReplaceAllString(input, "Bearer [REDACTED]")
	changed = out != input

	u, err := url.Parse(out)
	if err != nil || u.RawQuery == "" {
		return out, changed
	}
	q := u.Query()
	touched := false
	for _, key := range credentialParams {
		if q.Has(key) {
			q.Set(key, "REDACTED")
			touched = true
		}
	}
	if !touched {
		return out, changed
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}
