package auth

import (
	"fmt"
	"strings"
	"time"

	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
)

// Tenant is one org#app namespace.
type Tenant struct {
	OrgName string
	AppName string
}

// ParseAppKey splits an app key of the form org#app.
func ParseAppKey(appKey string) (Tenant, error) {
	org, app, ok := strings.Cut(appKey, "#")
	if !ok || org == "" || app == "" {
		return Tenant{}, fmt.Errorf("%w: %q", apierrors.ErrInvalidAppKey, appKey)
	}

	return Tenant{OrgName: org, AppName: app}, nil
}

// AppKey returns org#app.
func (t Tenant) AppKey() string {
	return t.OrgName + "#" + t.AppName
}

// TokenKind names one of the tokens Auth caches per tenant.
type TokenKind string

const (
	// KindEasemob is the service token from client credentials.
	KindEasemob TokenKind = "easemob_token"

	// KindAgora is the locally signed Agora token.
	KindAgora TokenKind = "agora_token"

	// KindBridged is the Easemob token obtained for an Agora token.
	KindBridged TokenKind = "agora_2_easemob_token"
)

// CacheKey returns the cache key for a token kind, for example
// "org#app_easemob_token". The format is shared with other SDKs reading
// the same cache, so it must not change.
func (t Tenant) CacheKey(kind TokenKind) string {
	return t.AppKey() + "_" + string(kind)
}

// Credential selects how Auth obtains its service token. It is either a
// NativeCredential or a BridgedCredential.
type Credential interface {
	credential()
	validate() error
}

// NativeCredential is an Easemob client id and secret, exchanged over the
// network for a bearer token.
type NativeCredential struct {
	ClientID     string
	ClientSecret string
}

func (NativeCredential) credential() {}

func (c NativeCredential) validate() error {
	if c.ClientID == "" {
		return apierrors.Invalid("client id", "is required")
	}

	if c.ClientSecret == "" {
		return apierrors.Invalid("client secret", "is required")
	}

	return nil
}

// BridgedCredential is an Agora app id and certificate. Auth signs an
// Agora token locally and exchanges it for an Easemob bearer token.
type BridgedCredential struct {
	AppID          string
	AppCertificate string

	// UUID is the Easemob user the Agora token is issued for. Empty
	// means an app-wide token.
	UUID string

	// Expiry is the Agora token lifetime. Zero uses the Auth token TTL.
	Expiry time.Duration
}

func (BridgedCredential) credential() {}

func (c BridgedCredential) validate() error {
	if c.AppID == "" {
		return apierrors.Invalid("app id", "is required")
	}

	if c.AppCertificate == "" {
		return apierrors.Invalid("app certificate", "is required")
	}

	return nil
}
