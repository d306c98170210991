package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/easemob-go/agora"
	"github.com/alexjbarnes/easemob-go/auth"
	"github.com/alexjbarnes/easemob-go/internal/config"
	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

// maxParallelUploads bounds concurrent uploads in one invocation.
const maxParallelUploads = 4

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	return fs
}

func runToken(ctx context.Context, a *auth.Auth, args []string, stdout io.Writer) error {
	fs := newFlagSet("token")
	agoraToken := fs.Bool("agora", false, "print the Agora token instead of the service token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		token string
		err   error
	)

	if *agoraToken {
		token, err = a.AgoraToken(ctx)
	} else {
		token, err = a.Token(ctx)
	}

	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, token)

	return nil
}

func runHeaders(ctx context.Context, a *auth.Auth, args []string, stdout io.Writer) error {
	if err := newFlagSet("headers").Parse(args); err != nil {
		return err
	}

	h, err := a.Headers(ctx)
	if err != nil {
		return err
	}

	return writeJSON(stdout, h)
}

func runAPIURI(ctx context.Context, a *auth.Auth, args []string, stdout io.Writer) error {
	if err := newFlagSet("api-uri").Parse(args); err != nil {
		return err
	}

	api, err := a.APIURI(ctx)
	if err != nil {
		return err
	}

	base, err := a.BaseURI(ctx)
	if err != nil {
		return err
	}

	return writeJSON(stdout, map[string]string{"api_uri": api, "base_uri": base})
}

func runUserToken(ctx context.Context, a *auth.Auth, args []string, stdout io.Writer) error {
	fs := newFlagSet("user-token")
	username := fs.String("username", "", "user name or uuid")
	password := fs.String("password", "", "password; selects the password grant")
	ttl := fs.Duration("ttl", 0, "token lifetime")
	grants := fs.String("grants", "", "YAML file of service grants")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := auth.UserTokenRequest{
		Username: *username,
		Password: *password,
		TTL:      *ttl,
	}

	if *grants != "" {
		services, err := loadGrants(*grants)
		if err != nil {
			return err
		}

		req.Services = services
	}

	ut, err := a.UserToken(ctx, req)
	if err != nil {
		return err
	}

	return writeJSON(stdout, ut)
}

// runSign signs an Agora token with the credentials from the environment.
// It needs no tenant and makes no network calls.
func runSign(args []string, stdout io.Writer) error {
	fs := newFlagSet("sign")
	uuid := fs.String("uuid", "", "user the chat token is issued for (default AGORA_USER_UUID)")
	ttl := fs.Duration("ttl", 0, "token lifetime (default EASEMOB_TOKEN_TTL)")
	grants := fs.String("grants", "", "YAML file of service grants")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := config.LoadSigning()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	expire := uint32(s.TokenTTL)
	if *ttl > 0 {
		expire = uint32(*ttl / time.Second)
	}

	subject := s.UserUUID
	if fs.Changed("uuid") {
		subject = *uuid
	}

	var token string

	switch {
	case *grants != "":
		services, err := loadGrants(*grants)
		if err != nil {
			return err
		}

		at := agora.NewAccessToken(s.AppID, s.AppCertificate, expire)
		for _, svc := range services {
			at.AddService(svc)
		}

		token, err = at.Build()
		if err != nil {
			return err
		}
	case subject != "":
		token, err = agora.BuildUserToken(s.AppID, s.AppCertificate, subject, expire)
	default:
		token, err = agora.BuildAppToken(s.AppID, s.AppCertificate, expire)
	}

	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, token)

	return nil
}

type serviceView struct {
	Service    string            `json:"service"`
	Channel    string            `json:"channel,omitempty"`
	UID        string            `json:"uid,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Privileges map[string]uint32 `json:"privileges"`
}

type tokenView struct {
	AppID     string        `json:"app_id"`
	IssuedAt  time.Time     `json:"issued_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Salt      uint32        `json:"salt"`
	Services  []serviceView `json:"services"`
	Verified  *bool         `json:"verified,omitempty"`
}

func runInspect(args []string, stdout io.Writer) error {
	fs := newFlagSet("inspect")
	cert := fs.String("cert", "", "app certificate to verify the signature with")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return apierrors.Invalid("token", "exactly one token argument is required")
	}

	t, err := agora.Parse(fs.Arg(0))
	if err != nil {
		return err
	}

	return writeJSON(stdout, describe(t, *cert))
}

func describe(t *agora.AccessToken, cert string) tokenView {
	v := tokenView{
		AppID:     t.AppID,
		IssuedAt:  t.IssuedAt().UTC(),
		ExpiresAt: t.ExpiresAt().UTC(),
		Salt:      t.Salt,
		Services:  make([]serviceView, 0, len(t.Services)),
	}

	for _, s := range t.Services {
		sv := serviceView{
			Service:    agora.ServiceName(s.Type()),
			Privileges: make(map[string]uint32, len(s.Privileges())),
		}

		for id, exp := range s.Privileges() {
			sv.Privileges[agora.PrivilegeName(s.Type(), id)] = exp
		}

		switch s := s.(type) {
		case *agora.RtcService:
			sv.Channel, sv.UID = s.ChannelName, s.UID
		case *agora.StreamingService:
			sv.Channel, sv.UID = s.ChannelName, s.UID
		case *agora.RtmService:
			sv.UserID = s.UserID
		case *agora.ChatService:
			sv.UserID = s.UserID
		}

		v.Services = append(v.Services, sv)
	}

	if cert != "" {
		ok := t.Verify(cert)
		v.Verified = &ok
	}

	return v
}

type uploadResult struct {
	File     string `json:"file"`
	UUID     string `json:"uuid,omitempty"`
	Secret   string `json:"share_secret,omitempty"`
	Duration string `json:"duration"`
}

// runUpload posts each file to {base}/chatfiles. Uploads run in parallel;
// the first failure cancels the rest.
func runUpload(ctx context.Context, a *auth.Auth, args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := newFlagSet("upload")
	mimeType := fs.String("mime", "", "content type of every file (default application/octet-stream)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		return apierrors.Invalid("files", "at least one file is required")
	}

	base, err := a.BaseURI(ctx)
	if err != nil {
		return err
	}

	header, err := a.Headers(ctx)
	if err != nil {
		return err
	}

	results := make([]uploadResult, fs.NArg())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)

	for i, path := range fs.Args() {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			name := uploadName(path)

			resp, err := a.Transport().MultipartPost(gctx, base+"/chatfiles", name, data, *mimeType, header)
			if err != nil {
				return err
			}

			if err := resp.Err(); err != nil {
				return fmt.Errorf("uploading %s: %w", path, err)
			}

			logger.Info("uploaded file",
				slog.String("file", name),
				slog.Int("bytes", len(data)),
				slog.Duration("duration", resp.Duration),
			)

			results[i] = uploadResult{
				File:     name,
				UUID:     resp.Get("entities.0.uuid").String(),
				Secret:   resp.Get("entities.0.share-secret").String(),
				Duration: resp.Duration.String(),
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return writeJSON(stdout, results)
}

// uploadName is the base name of path in NFC, so names typed on macOS
// (which stores NFD) match names typed elsewhere.
func uploadName(path string) string {
	return norm.NFC.String(filepath.Base(path))
}
