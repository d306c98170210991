package transport

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const defaultMIMEType = "application/octet-stream"

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// MultipartPost uploads a single file as multipart/form-data under the
// part name "file". The upload is always marked restrict-access, so the
// server stores it behind a share secret.
func (c *Client) MultipartPost(ctx context.Context, uri, fileName string, data []byte, mimeType string, header map[string]string) (*Response, error) {
	boundary := newBoundary()
	body := multipartBody(boundary, fileName, data, mimeType)

	h := make(map[string]string, len(header)+2)
	for k, v := range header {
		h[k] = v
	}

	h["Content-Type"] = "multipart/form-data; boundary=" + boundary
	h["restrict-access"] = "true"

	return c.Send(ctx, &Request{Method: http.MethodPost, URI: uri, Header: h, Body: body})
}

func newBoundary() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// multipartBody lays out one part by hand: the API expects exactly this
// framing, including the trailing CRLF after the closing boundary.
func multipartBody(boundary, fileName string, data []byte, mimeType string) []byte {
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	var b bytes.Buffer
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString(`Content-Disposition: form-data; name="file"; filename="` + escapeQuotes(fileName) + "\"\r\n")
	b.WriteString("Content-Type: " + mimeType + "\r\n")
	b.WriteString("\r\n")
	b.Write(data)
	b.WriteString("\r\n--" + boundary + "--\r\n")

	return b.Bytes()
}

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
