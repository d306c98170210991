package e2e_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexjbarnes/easemob-go/auth"
	"github.com/alexjbarnes/easemob-go/cache"
	"github.com/alexjbarnes/easemob-go/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testAppKey       = "acme#chat"
	testClientID     = "YXA6e2e-client"
	testClientSecret = "YXA6e2e-secret"
	testAppID        = "970CA35de60c44645bbae8a215061b33"
	testCert         = "5CFd2fd1755d40ecb72977518be15d3b"
)

// harness is a fake Easemob deployment: the host directory, the tenant
// token endpoint, the Agora bridge and the chat file store, all served
// over TLS from one httptest server.
type harness struct {
	URL    string
	Server *httptest.Server

	// Counters per endpoint.
	Discovery atomic.Int32
	Tokens    atomic.Int32
	Bridge    atomic.Int32
	Uploads   atomic.Int32

	mu          sync.Mutex
	tokenStatus int
	lastBearer  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{tokenStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /easemob/server.json", h.serveDirectory)
	mux.HandleFunc("POST /acme/chat/token", h.serveToken)
	mux.HandleFunc("POST /bridge/acme/chat/token", h.serveBridge)
	mux.HandleFunc("POST /acme/chat/chatfiles", h.serveUpload)

	h.Server = httptest.NewTLSServer(mux)
	h.URL = h.Server.URL
	t.Cleanup(h.Server.Close)

	return h
}

// failTokens makes the token endpoint answer with status until reset.
func (h *harness) failTokens(status int) {
	h.mu.Lock()
	h.tokenStatus = status
	h.mu.Unlock()
}

func (h *harness) serveDirectory(w http.ResponseWriter, r *http.Request) {
	h.Discovery.Add(1)

	host := strings.TrimPrefix(h.URL, "https://")
	writeJSON(w, http.StatusOK, map[string]any{
		"rest": map[string]any{
			"hosts": []map[string]string{
				{"protocol": "http", "domain": "plain.invalid"},
				{"protocol": "https", "domain": host},
			},
		},
	})
}

func (h *harness) serveToken(w http.ResponseWriter, r *http.Request) {
	h.Tokens.Add(1)

	h.mu.Lock()
	status := h.tokenStatus
	h.mu.Unlock()

	if status != http.StatusOK {
		writeJSON(w, status, map[string]string{
			"error":             "invalid_grant",
			"error_description": "client secret is invalid",
		})
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}

	switch body["grant_type"] {
	case "client_credentials":
		if body["client_id"] != testClientID || body["client_secret"] != testClientSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"access_token": "svc-" + time.Now().Format("150405.000000"), "expires_in": 7200})
	case "password":
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "user-" + body["username"].(string), "expires_in": 3600})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (h *harness) serveBridge(w http.ResponseWriter, r *http.Request) {
	h.Bridge.Add(1)

	h.mu.Lock()
	h.lastBearer = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"access_token": "bridged-token", "expires_in": 600})
}

func (h *harness) serveUpload(w http.ResponseWriter, r *http.Request) {
	h.Uploads.Add(1)

	if r.Header.Get("restrict-access") != "true" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "restrict-access required"})
		return
	}

	_, fh, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": []map[string]string{{"uuid": "file-1", "share-secret": "s3cr3t", "filename": fh.Filename}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// transport returns a client trusting the harness certificate, with
// metrics registered on reg when it is not nil.
func (h *harness) transport(reg prometheus.Registerer) *transport.Client {
	opts := []transport.Option{transport.WithHTTPClient(h.Server.Client())}
	if reg != nil {
		opts = append(opts, transport.WithMetrics(reg))
	}

	return transport.New(transport.Config{}, opts...)
}

// newNative builds an Auth that discovers its host from the harness.
func (h *harness) newNative(t *testing.T, store cache.Cache, opts ...auth.Option) *auth.Auth {
	t.Helper()

	base := []auth.Option{
		auth.WithCache(store),
		auth.WithTransport(h.transport(nil)),
		auth.WithDirectoryURL(h.URL),
	}

	a, err := auth.NewNative(testAppKey, testClientID, testClientSecret, append(base, opts...)...)
	require.NoError(t, err)

	return a
}

func (h *harness) newBridged(t *testing.T, store cache.Cache, uuid string) *auth.Auth {
	t.Helper()

	a, err := auth.NewBridged(testAppKey, testAppID, testCert, uuid,
		auth.WithCache(store),
		auth.WithTransport(h.transport(nil)),
		auth.WithDirectoryURL(h.URL),
		auth.WithBridgeURL(h.URL+"/bridge"),
	)
	require.NoError(t, err)

	return a
}
