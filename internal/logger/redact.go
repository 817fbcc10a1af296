// Package logger holds the output plumbing shared by every zerolog logger.
package logger

import (
	"io"
	"regexp"
)

const mask = "[REDACTED]"

// rule masks whatever follows its first capture group.
type rule struct {
	name string
	re   *regexp.Regexp
}

var rules = []rule{
	{"service_account_key", regexp.MustCompile(`(?i)("private_key"\s*:\s*")[^"]+`)},
	{"service_account_key_id", regexp.MustCompile(`(?i)("?private_key_id"?["'\s:=]+)[A-Za-z0-9]{16,}`)},
	{"password", regexp.MustCompile(`(?i)(password["'\s:=]+)\S+`)},
	{"firebase_api_key", regexp.MustCompile(`(?i)(firebase_api_key["'\s:=]+)\S+`)},
	{"api_key", regexp.MustCompile(`(?i)(api[_-]?key["'\s:=]+)[A-Za-z0-9\-_]{16,}`)},
	{"id_token", regexp.MustCompile(`(?i)(id[_-]?token["'\s:=]+)[A-Za-z0-9\-_\.]+`)},
	{"bearer", regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9\-_\.]+`)},
}

var replacement = []byte("${1}" + mask)

// RedactWriter masks credentials in log lines before they reach w: service
// account keys, API keys, ID tokens and bearer tokens.
type RedactWriter struct {
	w io.Writer
}

// NewRedactWriter wraps w.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{w: w}
}

// Write reports len(p) on success even when masking changed the length, so
// zerolog never sees a short write.
func (r *RedactWriter) Write(p []byte) (int, error) {
	if _, err := r.w.Write(Redact(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Redact returns p with every known credential masked.
func Redact(p []byte) []byte {
	out := p
	for _, rl := range rules {
		out = rl.re.ReplaceAll(out, replacement)
	}
	return out
}
