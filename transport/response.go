package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// statusText is the fallback error text for common failure codes when the
// body does not carry its own error. Codes outside the table surface no
// text, only the code.
var statusText = map[int]string{
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Request Entity Too Large",
	415: "Unsupported Media Type",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// Response is the normalised outcome of a round trip. It is not modified
// after construction.
type Response struct {
	// StatusCode is the HTTP status, or ConnectionFailed when no response
	// arrived.
	StatusCode int
	Duration   time.Duration
	Header     http.Header
	Body       []byte

	// Data is the decoded JSON body, nil when the body is empty or not
	// valid JSON.
	Data any

	// Error is the body's "error" field if present, else the status text
	// for known failure codes, else the transport error for connection
	// failures. Empty on success.
	Error string
}

func newResponse(code int, duration time.Duration, header http.Header, body []byte) *Response {
	r := &Response{
		StatusCode: code,
		Duration:   duration,
		Header:     header,
		Body:       body,
	}

	if len(body) > 0 && gjson.ValidBytes(body) {
		var data any
		if err := json.Unmarshal(body, &data); err == nil {
			r.Data = data
		}

		if e := gjson.GetBytes(body, "error"); truthy(e) {
			r.Error = e.String()
		}
	}

	if r.Error == "" {
		r.Error = statusText[code]
	}

	return r
}

func newFailedResponse(duration time.Duration, err error) *Response {
	return &Response{
		StatusCode: ConnectionFailed,
		Duration:   duration,
		Error:      err.Error(),
	}
}

// truthy mirrors how the API treats an "error" field: absent, null,
// false, zero and empty values do not count as errors.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.True, gjson.JSON:
		return true
	}

	return false
}

// OK reports a 2xx status with no error surfaced.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.Error == ""
}

// Err returns nil when OK, otherwise the remote error envelope.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}

	re := &RemoteError{
		Code:    r.StatusCode,
		Message: r.Error,
	}

	if len(r.Body) > 0 {
		if d := gjson.GetBytes(r.Body, "error_description"); d.Exists() {
			re.Description = d.String()
		}
	}

	return re
}

// Get returns a field of the JSON body by gjson path.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("decoding response: empty body")
	}

	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in log lines. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
