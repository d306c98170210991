package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/easemob-go/auth"
	"github.com/alexjbarnes/easemob-go/cache"
	"github.com/alexjbarnes/easemob-go/internal/config"
	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
	"github.com/alexjbarnes/easemob-go/internal/logging"
	"github.com/alexjbarnes/easemob-go/transport"
	"github.com/redis/go-redis/v9"
)

var Version = "dev"

const usage = `usage: easemob <command> [flags]

commands:
  token        print the tenant service token
  headers      print the authorization headers as JSON
  api-uri      print the discovered REST host and tenant base URI
  user-token   issue a per-user token
  sign         sign an Agora token offline
  inspect      decode an Agora token
  upload       upload files to the chat file store
  cache-purge  drop expired entries from the bolt cache
  version      print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// printError prints remote failures as their JSON envelope so scripts can
// read the code.
func printError(w io.Writer, err error) {
	if re, ok := apierrors.AsRemote(err); ok {
		b, _ := json.Marshal(re.Map())
		fmt.Fprintf(w, "error: %s\n", b)
		return
	}

	fmt.Fprintf(w, "error: %v\n", err)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("no command given")
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "sign":
		return runSign(rest, stdout)
	case "inspect":
		return runInspect(rest, stdout)
	case "version":
		fmt.Fprintln(stdout, Version)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	case "token", "headers", "api-uri", "user-token", "upload", "cache-purge":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Debug("easemob starting",
		slog.String("version", Version),
		slog.String("command", cmd),
		slog.String("cache", cfg.CacheBackend),
		slog.Bool("agora", cfg.UseAgora),
	)

	if cmd == "cache-purge" {
		return runPurge(cfg, stdout, logger)
	}

	store, closeStore, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	a, err := newAuth(cfg, store, logger)
	if err != nil {
		return err
	}

	switch cmd {
	case "token":
		return runToken(ctx, a, rest, stdout)
	case "headers":
		return runHeaders(ctx, a, rest, stdout)
	case "api-uri":
		return runAPIURI(ctx, a, rest, stdout)
	case "user-token":
		return runUserToken(ctx, a, rest, stdout)
	default:
		return runUpload(ctx, a, rest, stdout, logger)
	}
}

func newAuth(cfg *config.Config, store cache.Cache, logger *slog.Logger) (*auth.Auth, error) {
	client := transport.New(cfg.Transport(),
		transport.WithLogger(logger),
	)

	opts := []auth.Option{
		auth.WithCache(store),
		auth.WithTransport(client),
		auth.WithTokenTTL(cfg.TokenTTLDuration()),
		auth.WithLogger(logger),
	}
	if cfg.APIURI != "" {
		opts = append(opts, auth.WithAPIURI(cfg.APIURI))
	}

	a, err := auth.New(cfg.AppKey, cfg.Credential(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating auth: %w", err)
	}

	return a, nil
}

// openCache opens the configured token cache. The returned func releases
// it and is safe to call when nothing needs releasing.
func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	noop := func() {}

	switch cfg.CacheBackend {
	case config.BackendMemory:
		return cache.NewMemory(), noop, nil
	case config.BackendBolt:
		path := cfg.CacheBoltPath
		if path == "" {
			path = cache.DefaultBoltPath()
		}

		b, err := cache.OpenBolt(path)
		if err != nil {
			return nil, noop, err
		}

		return b, func() { b.Close() }, nil
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: parsing REDIS_URL: %v", apierrors.ErrCacheUnavailable, err)
		}

		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("%w: %v", apierrors.ErrCacheUnavailable, err)
		}

		r, err := cache.NewRedis(client)
		if err != nil {
			client.Close()
			return nil, noop, err
		}

		return r, func() { client.Close() }, nil
	default:
		dir := cfg.CacheDir
		if dir == "" {
			dir = cache.DefaultDir()
		}

		return cache.NewFile(dir), noop, nil
	}
}

func runPurge(cfg *config.Config, stdout io.Writer, logger *slog.Logger) error {
	if cfg.CacheBackend != config.BackendBolt {
		return fmt.Errorf("cache-purge only applies to the bolt backend, not %q", cfg.CacheBackend)
	}

	path := cfg.CacheBoltPath
	if path == "" {
		path = cache.DefaultBoltPath()
	}

	b, err := cache.OpenBolt(path)
	if err != nil {
		return err
	}
	defer b.Close()

	n, err := b.Purge()
	if err != nil {
		return err
	}

	logger.Info("purged expired tokens", slog.Int("count", n), slog.String("path", path))
	fmt.Fprintln(stdout, n)

	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
