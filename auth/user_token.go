package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/alexjbarnes/easemob-go/agora"
	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
)

// UserTokenRequest describes a per-user token.
type UserTokenRequest struct {
	// Username is the Easemob user name or uuid. With a BridgedCredential
	// and no Password or Services, an empty Username yields an app token.
	Username string

	// Password selects the network password grant. Required with a
	// NativeCredential.
	Password string

	// TTL is the requested lifetime. Zero lets the server decide for the
	// password grant and uses the Auth token TTL for signed tokens.
	TTL time.Duration

	// Services, when set with a BridgedCredential, are packed into a
	// multi-service Agora token instead of the default chat grant.
	Services []agora.Service
}

// UserToken is an issued per-user token.
type UserToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// UserToken issues a token for a user. User tokens are never cached.
//
// With a password it performs the password grant against the tenant's
// token endpoint. Otherwise, with a BridgedCredential, it signs an Agora
// token locally with no network call.
func (a *Auth) UserToken(ctx context.Context, req UserTokenRequest) (*UserToken, error) {
	if req.TTL < 0 {
		return nil, apierrors.Invalid("ttl", "must not be negative")
	}

	if req.Password != "" {
		return a.passwordToken(ctx, req)
	}

	cred, ok := a.cred.(BridgedCredential)
	if !ok {
		return nil, apierrors.Invalid("password", "is required with client credentials")
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = a.bridgedExpiry()
	}

	expire := wireSeconds(ttl)

	var (
		token string
		err   error
	)

	switch {
	case len(req.Services) > 0:
		at := agora.NewAccessToken(cred.AppID, cred.AppCertificate, expire)
		for _, s := range req.Services {
			at.AddService(s)
		}

		token, err = at.Build()
	case req.Username != "":
		token, err = agora.BuildUserToken(cred.AppID, cred.AppCertificate, req.Username, expire)
	default:
		token, err = agora.BuildAppToken(cred.AppID, cred.AppCertificate, expire)
	}

	if err != nil {
		return nil, fmt.Errorf("signing user token: %w", err)
	}

	return &UserToken{AccessToken: token, ExpiresIn: int64(expire)}, nil
}

func (a *Auth) passwordToken(ctx context.Context, req UserTokenRequest) (*UserToken, error) {
	if req.Username == "" {
		return nil, apierrors.Invalid("username", "is required")
	}

	base, err := a.BaseURI(ctx)
	if err != nil {
		return nil, err
	}

	tr, err := a.requestToken(ctx, base+"/token", tokenRequest{
		GrantType: "password",
		Username:  req.Username,
		Password:  req.Password,
		TTL:       seconds(req.TTL),
	}, nil)
	if err != nil {
		return nil, err
	}

	return &UserToken{AccessToken: tr.AccessToken, ExpiresIn: tr.ExpiresIn}, nil
}
