package auth

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alexjbarnes/easemob-go/agora"
	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
)

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	TTL          int64  `json:"ttl,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// requestToken posts to a token endpoint and decodes the result. Remote
// failures come back as the *RemoteError from the transport, unwrapped.
func (a *Auth) requestToken(ctx context.Context, uri string, body tokenRequest, header map[string]string) (*tokenResponse, error) {
	resp, err := a.transport.Post(ctx, uri, body, header)
	if err != nil {
		return nil, err
	}

	if err := resp.Err(); err != nil {
		a.logger.Warn("token request failed",
			slog.String("app_key", a.tenant.AppKey()),
			slog.String("grant_type", body.GrantType),
			slog.Int("status", resp.StatusCode),
		)

		return nil, err
	}

	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrAPIResponse, err)
	}

	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", apierrors.ErrAPIResponse)
	}

	return &tr, nil
}

// fetchNativeToken exchanges the client credentials for a service token
// and caches it for half its reported lifetime.
func (a *Auth) fetchNativeToken(ctx context.Context) (string, error) {
	cred := a.cred.(NativeCredential)

	base, err := a.BaseURI(ctx)
	if err != nil {
		return "", err
	}

	tr, err := a.requestToken(ctx, base+"/token", tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		TTL:          seconds(a.tokenTTL),
	}, nil)
	if err != nil {
		return "", err
	}

	if err := a.store(ctx, KindEasemob, tr.AccessToken, halfLife(tr.ExpiresIn, a.tokenTTL)); err != nil {
		return "", err
	}

	a.logger.Info("service token acquired",
		slog.String("app_key", a.tenant.AppKey()),
		slog.Int64("expires_in", tr.ExpiresIn),
	)

	return tr.AccessToken, nil
}

// fetchBridgedToken signs (or reuses) an Agora token and exchanges it at
// the bridge for an Easemob token.
func (a *Auth) fetchBridgedToken(ctx context.Context) (string, error) {
	agoraToken, err := a.AgoraToken(ctx)
	if err != nil {
		return "", err
	}

	uri := a.bridgeURL + "/" + a.tenant.OrgName + "/" + a.tenant.AppName + "/token"

	tr, err := a.requestToken(ctx, uri, tokenRequest{GrantType: "agora"},
		map[string]string{"Authorization": "Bearer " + agoraToken})
	if err != nil {
		return "", err
	}

	if err := a.store(ctx, KindBridged, tr.AccessToken, halfLife(tr.ExpiresIn, a.bridgedExpiry())); err != nil {
		return "", err
	}

	a.logger.Info("bridged token acquired",
		slog.String("app_key", a.tenant.AppKey()),
		slog.Int64("expires_in", tr.ExpiresIn),
	)

	return tr.AccessToken, nil
}

// AgoraToken returns the tenant's Agora token, signing a new one when the
// cached one is missing or expired. It never touches the network. Only
// valid with a BridgedCredential.
func (a *Auth) AgoraToken(ctx context.Context) (string, error) {
	cred, ok := a.cred.(BridgedCredential)
	if !ok {
		return "", apierrors.Invalid("credential", "is not an Agora credential")
	}

	key := a.CacheKey(KindAgora)

	token, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("reading token cache: %w", err)
	}

	if ok && token != "" {
		return token, nil
	}

	expiry := a.bridgedExpiry()
	if cred.UUID != "" {
		token, err = agora.BuildUserToken(cred.AppID, cred.AppCertificate, cred.UUID, wireSeconds(expiry))
	} else {
		token, err = agora.BuildAppToken(cred.AppID, cred.AppCertificate, wireSeconds(expiry))
	}

	if err != nil {
		return "", fmt.Errorf("signing agora token: %w", err)
	}

	if err := a.store(ctx, KindAgora, token, expiry); err != nil {
		return "", err
	}

	return token, nil
}

func (a *Auth) bridgedExpiry() time.Duration {
	if cred, ok := a.cred.(BridgedCredential); ok && cred.Expiry > 0 {
		return cred.Expiry
	}

	return a.tokenTTL
}

func (a *Auth) store(ctx context.Context, kind TokenKind, token string, ttl time.Duration) error {
	if err := a.cache.Set(ctx, a.CacheKey(kind), token, ttl); err != nil {
		return fmt.Errorf("writing token cache: %w", err)
	}

	return nil
}

// wireSeconds clamps a duration to the uint32 seconds the token format
// carries.
func wireSeconds(d time.Duration) uint32 {
	s := seconds(d)
	if s < 0 {
		return 0
	}

	if s > math.MaxUint32 {
		return math.MaxUint32
	}

	return uint32(s)
}
