package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppID = "970CA35de60c44645bbae8a215061b33"
	testCert  = "5CFd2fd1755d40ecb72977518be15d3b"
)

// clearEnv unsets every variable the CLI reads so tests start clean.
func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"EASEMOB_APP_KEY", "EASEMOB_CLIENT_ID", "EASEMOB_CLIENT_SECRET",
		"EASEMOB_USE_AGORA", "AGORA_APP_ID", "AGORA_APP_CERTIFICATE", "AGORA_USER_UUID",
		"EASEMOB_TOKEN_TTL", "EASEMOB_API_URI", "EASEMOB_PROXY_HOST", "EASEMOB_PROXY_PORT",
		"EASEMOB_PROXY_USER", "EASEMOB_PROXY_PASS", "EASEMOB_INSECURE_SKIP_VERIFY",
		"EASEMOB_HTTP_TIMEOUT", "CACHE_BACKEND", "CACHE_DIR", "CACHE_BOLT_PATH",
		"REDIS_URL", "ENVIRONMENT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	t.Setenv("LOG_LEVEL", "error")
}

func setNativeEnv(t *testing.T, apiURI string) {
	t.Helper()
	t.Setenv("EASEMOB_APP_KEY", "acme#chat")
	t.Setenv("EASEMOB_CLIENT_ID", "YXA6id")
	t.Setenv("EASEMOB_CLIENT_SECRET", "YXA6secret")
	t.Setenv("EASEMOB_API_URI", apiURI)
	t.Setenv("CACHE_BACKEND", "memory")
}

func tokenHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"access_token":"svc-token","expires_in":7200}`))
}

// --- Dispatch ---

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"frobnicate"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestRun_NoCommandPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), nil, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "usage: easemob")
}

func TestRun_ConfigErrorIsReported(t *testing.T) {
	clearEnv(t)

	err := run(context.Background(), []string{"token"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EASEMOB_APP_KEY")
}

// --- Network commands ---

func TestRun_TokenAndHeaders(t *testing.T) {
	clearEnv(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /acme/chat/token", tokenHandler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	setNativeEnv(t, srv.URL)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"token"}, &out))
	assert.Equal(t, "svc-token\n", out.String())

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"headers"}, &out))

	var h map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &h))
	assert.Equal(t, "Bearer svc-token", h["Authorization"])
}

func TestRun_APIURI(t *testing.T) {
	clearEnv(t)
	setNativeEnv(t, "https://a1.example.com")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"api-uri"}, &out))

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "https://a1.example.com", got["api_uri"])
	assert.Equal(t, "https://a1.example.com/acme/chat", got["base_uri"])
}

func TestRun_RemoteErrorPrintsEnvelope(t *testing.T) {
	clearEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client","error_description":"bad secret"}`))
	}))
	defer srv.Close()

	setNativeEnv(t, srv.URL)

	err := run(context.Background(), []string{"token"}, io.Discard)
	require.Error(t, err)

	var stderr bytes.Buffer
	printError(&stderr, err)
	assert.Equal(t,
		`error: {"code":401,"error":"invalid_client","error_description":"bad secret"}`+"\n",
		stderr.String())
}

func TestRun_UserTokenPassword(t *testing.T) {
	clearEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "password", body["grant_type"])
		assert.Equal(t, "alice", body["username"])
		w.Write([]byte(`{"access_token":"user-token","expires_in":60}`))
	}))
	defer srv.Close()

	setNativeEnv(t, srv.URL)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(),
		[]string{"user-token", "--username", "alice", "--password", "pw"}, &out))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "user-token", got["access_token"])
	assert.EqualValues(t, 60, got["expires_in"])
}

func TestRun_UploadNormalisesFileName(t *testing.T) {
	clearEnv(t)

	var gotName string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /acme/chat/token", tokenHandler)
	mux.HandleFunc("POST /acme/chat/chatfiles", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.Header.Get("restrict-access"))

		_, fh, err := r.FormFile("file")
		require.NoError(t, err)
		gotName = fh.Filename

		w.Write([]byte(`{"entities":[{"uuid":"f-1","share-secret":"s3"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	setNativeEnv(t, srv.URL)

	path := filepath.Join(t.TempDir(), "cafe\u0301.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"upload", "--mime", "text/plain", path}, &out))

	assert.Equal(t, "caf\u00e9.txt", gotName)

	var results []uploadResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "f-1", results[0].UUID)
	assert.Equal(t, "s3", results[0].Secret)
}

func TestRun_UploadRequiresFiles(t *testing.T) {
	clearEnv(t)
	setNativeEnv(t, "https://a1.example.com")

	err := run(context.Background(), []string{"upload"}, io.Discard)
	assert.ErrorIs(t, err, apierrors.ErrValidation)
}

// --- Offline commands ---

func TestRun_SignThenInspect(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGORA_APP_ID", testAppID)
	t.Setenv("AGORA_APP_CERTIFICATE", testCert)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"sign", "--uuid", "bob", "--ttl", "1h"}, &out))

	token := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(token, "007"))

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"inspect", "--cert", testCert, token}, &out))

	var view tokenView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Equal(t, testAppID, view.AppID)
	assert.Equal(t, int64(3600), view.ExpiresAt.Unix()-view.IssuedAt.Unix())
	require.NotNil(t, view.Verified)
	assert.True(t, *view.Verified)
	require.Len(t, view.Services, 1)
	assert.Equal(t, "chat", view.Services[0].Service)
	assert.Equal(t, "bob", view.Services[0].UserID)
	assert.Equal(t, map[string]uint32{"user": 3600}, view.Services[0].Privileges)
}

func TestRun_SignWithGrants(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGORA_APP_ID", testAppID)
	t.Setenv("AGORA_APP_CERTIFICATE", testCert)

	grants := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(grants, []byte(
		"- service: rtc\n  channel: lobby\n  uid: \"1\"\n  privileges: {join_channel: 0}\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"sign", "--grants", grants}, &out))

	token := strings.TrimSpace(out.String())
	out.Reset()
	require.NoError(t, run(context.Background(), []string{"inspect", token}, &out))

	var view tokenView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Nil(t, view.Verified)
	require.Len(t, view.Services, 1)
	assert.Equal(t, "rtc", view.Services[0].Service)
	assert.Equal(t, "lobby", view.Services[0].Channel)
	assert.Equal(t, "1", view.Services[0].UID)
	assert.Equal(t, map[string]uint32{"join_channel": 0}, view.Services[0].Privileges)
}

func TestRun_InspectWrongCertificate(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGORA_APP_ID", testAppID)
	t.Setenv("AGORA_APP_CERTIFICATE", testCert)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"sign"}, &out))

	token := strings.TrimSpace(out.String())
	out.Reset()
	require.NoError(t, run(context.Background(),
		[]string{"inspect", "--cert", "00000000000000000000000000000000", token}, &out))

	var view tokenView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	require.NotNil(t, view.Verified)
	assert.False(t, *view.Verified)
	assert.Equal(t, map[string]uint32{"app": uint32(2592000)}, view.Services[0].Privileges)
}

func TestRun_InspectMalformed(t *testing.T) {
	err := run(context.Background(), []string{"inspect", "007!!!"}, io.Discard)
	assert.True(t, errors.Is(err, apierrors.ErrMalformedToken))

	err = run(context.Background(), []string{"inspect", "006abc"}, io.Discard)
	assert.ErrorIs(t, err, apierrors.ErrUnsupportedVersion)
}

// --- Cache backends ---

func TestRun_BoltCacheAndPurge(t *testing.T) {
	clearEnv(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /acme/chat/token", tokenHandler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	setNativeEnv(t, srv.URL)
	t.Setenv("CACHE_BACKEND", "bolt")
	t.Setenv("CACHE_BOLT_PATH", filepath.Join(t.TempDir(), "tokens.db"))

	require.NoError(t, run(context.Background(), []string{"token"}, io.Discard))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"cache-purge"}, &out))
	assert.Equal(t, "0\n", out.String())
}

func TestRun_PurgeRejectsOtherBackends(t *testing.T) {
	clearEnv(t)
	setNativeEnv(t, "https://a1.example.com")

	err := run(context.Background(), []string{"cache-purge"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bolt")
}

func TestRun_RedisUnreachable(t *testing.T) {
	clearEnv(t)
	setNativeEnv(t, "https://a1.example.com")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1/0")

	err := run(context.Background(), []string{"token"}, io.Discard)
	assert.ErrorIs(t, err, apierrors.ErrCacheUnavailable)
}
