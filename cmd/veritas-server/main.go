package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aspect-build/veritas/internal/logx"
	"github.com/aspect-build/veritas/internal/nonce"
	"github.com/aspect-build/veritas/internal/relay"
	"github.com/aspect-build/veritas/internal/server"
	"github.com/aspect-build/veritas/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or VERITAS_LOG_LEVEL)")
	configPath := flag.String("config", "", "Optional YAML config file; VERITAS_* variables override it")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("veritas-server"))
		fmt.Fprintf(os.Stderr, "Veritas relay issues handshake nonces and decodes device integrity tokens.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_LISTEN_ADDR             Listen address (default: :5179)\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_NONCE_STORE             memory|sqlite|redis (default: memory)\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_DB_PATH                 SQLite database path (default: veritas.db)\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_REDIS_URL               Redis URL, required for the redis store\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_NONCE_TTL               Nonce lifetime (default: 2m)\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_CREDENTIALS_FILE        Service account key file (development)\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_STATIC_ACCESS_TOKEN     Fixed bearer token, for the emulator only\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_PLAYINTEGRITY_ENDPOINT  Decode API base URL\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_REQUIRE_NONCE           Require nonceId on /integrity/decode (default: false)\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_CORS_ORIGINS            Comma-separated origins, * for any\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_ADMIN_TOKEN             Enables /admin routes (min 16 chars)\n")
		fmt.Fprintf(os.Stderr, "  VERITAS_LOG_LEVEL               debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("veritas-server"))
		os.Exit(0)
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level := *logLevel
	if level == "" && !*verbose {
		level = cfg.LogLevel
	}
	if err := logx.Configure(level, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := server.OpenNonceStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open nonce store: %v", err)
	}
	defer closeStore()
	registry := nonce.NewRegistry(store, nonce.WithTTL(cfg.NonceTTL))

	creds, err := resolveCredentials(cfg)
	if err != nil {
		log.Fatalf("credentials: %v", err)
	}
	rl := relay.New(relay.Config{Endpoint: cfg.PlayIntegrityEndpoint, Credentials: creds})

	r := server.NewRouter(server.Deps{Nonces: registry, Relay: rl}, cfg)
	logx.Infof("server config: nonce_store=%s nonce_ttl=%s require_nonce=%v endpoint=%s admin=%v",
		cfg.NonceStore, cfg.NonceTTL, cfg.RequireNonce, rl.Endpoint(), cfg.AdminToken != "")

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Warnf("shutdown: %v", err)
		}
	}()

	log.Printf("veritas-server listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func resolveCredentials(cfg *server.Config) (relay.Credentials, error) {
	if cfg.StaticAccessToken != "" {
		logx.Warnf("using a static access token; only suitable against the emulator")
		return relay.StaticToken{AccessToken: cfg.StaticAccessToken}, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	creds, source, err := relay.ResolveDefault(cfg.CredentialsFile, wd)
	if err != nil {
		return nil, err
	}
	logx.Infof("credentials: %s", source)
	return creds, nil
}
