// Command relay is a personal chat bouncer. It:
//   - Loads configuration (defaults, YAML file, environment) and initializes
//     structured logging.
//   - Opens Postgres or SQLite, runs migrations and warms the caches from
//     stored lines and last-seen records.
//   - Keeps one chat session per configured server, normalizes what arrives,
//     caches it, writes it back to storage and text logs, and pushes it to
//     websocket viewers.
//   - Refreshes chat tokens, resolves display names and forwards plugin hooks
//     to NATS when configured.
//   - Exposes /healthz, /readyz, /metrics, /ws and the JSON API.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
	"golang.org/x/oauth2"

	"github.com/onnwee/relay/chat"
	"github.com/onnwee/relay/chatlog"
	"github.com/onnwee/relay/config"
	"github.com/onnwee/relay/db"
	"github.com/onnwee/relay/friends"
	"github.com/onnwee/relay/ingest"
	"github.com/onnwee/relay/loop"
	"github.com/onnwee/relay/naming"
	"github.com/onnwee/relay/oauth"
	"github.com/onnwee/relay/plugin"
	"github.com/onnwee/relay/realtime"
	"github.com/onnwee/relay/relay"
	"github.com/onnwee/relay/server"
	"github.com/onnwee/relay/telemetry"
	"github.com/onnwee/relay/twitchapi"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default: $CONFIG_PATH or ./config.yaml)")
	flag.Parse()

	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(telemetry.TracingConfigFromEnv("relay", version))
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, config.ResolvePath(*configPath)); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("relay exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shut down")
}

func setupLogger(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func run(ctx context.Context, cfg *config.Config, configFile string) error {
	store, err := db.Open(cfg.DSN())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	slog.Info("running database migrations", slog.String("component", "db_migrate"), slog.String("dialect", string(store.Dialect())))
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	snapshot, triggers, err := syncRelationships(ctx, store, cfg)
	if err != nil {
		return err
	}

	l := loop.New(4096)
	persister := relay.NewPersister(4096)
	hooks := plugin.NewDispatcher(5 * time.Second)
	hub := realtime.NewHub(l.Post, realtime.WithHooks(hooks), realtime.WithCheckOrigin(originChecker(cfg.CORSOrigins)))

	engine := relay.New(relay.Config{
		CacheSize:        cfg.Cache.Size,
		HighlightContext: cfg.Cache.HighlightContext,
		MaxBunch:         cfg.Cache.MaxBunch,
		LogToDB:          cfg.Features.LogToDB,
	}, store, hub,
		relay.WithPost(l.Post),
		relay.WithSubmit(persister.Submit),
		relay.WithBreaker(relay.NewBreaker(relay.BreakerConfig{Retryable: db.IsRetryable})),
	)
	hub.Bind(engine)
	engine.Schedule(l, relay.Intervals{
		WriteBack: cfg.Flush.WriteBack,
		Deletes:   cfg.Flush.Delete,
		LastSeen:  cfg.Flush.LastSeen,
	})
	l.Every("db-pool-metrics", 15*time.Second, func() {
		st := store.Stats()
		telemetry.UpdateDatabasePoolMetrics(st.OpenConnections, st.InUse)
	})

	logs := chatlog.NewWriter(cfg.LogDir(), 4096)
	norm := ingest.New(engine, ingest.WithLogWriter(logs), ingest.WithHooks(hooks))
	norm.SetFriends(snapshot)
	norm.SetTriggers(triggers)
	norm.SetLogToFile(cfg.Features.LogToFile)
	manager := chat.NewManager(norm, chat.NewTwitchClient, chat.WithPost(l.Post), chat.WithHooks(hooks))

	if err := warmCaches(ctx, store, engine, cfg.Cache.Size); err != nil {
		slog.Warn("cache warm-up failed", slog.String("component", "relay"), slog.Any("err", err))
	}

	sup := newSupervisor()
	sup.Add(l)
	sup.Add(persister)
	sup.Add(logs)
	sup.Add(hub)

	servers := cfg.ChatServers()
	for i, s := range cfg.Servers {
		if s.RefreshToken == "" || cfg.Twitch.ClientID == "" {
			continue
		}
		provider := oauth.Provider(s.Name)
		access, err := oauth.Seed(ctx, store, provider, s.Token, s.RefreshToken)
		if err != nil {
			slog.Warn("seed chat token failed", slog.String("component", "oauth"), slog.String("server", s.Name), slog.Any("err", err))
		}
		servers[i].Token = access
		sup.Add(newTokenRefresher(cfg, store, l, manager, s.Name, provider))
	}

	if cfg.Twitch.ClientID != "" && cfg.Twitch.ClientSecret != "" {
		helix := &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.Twitch.ClientID, ClientSecret: cfg.Twitch.ClientSecret},
			ClientID:       cfg.Twitch.ClientID,
		}
		resolver := twitchapi.NewProfileResolver(helix, func(server string, names map[string]string) {
			_ = l.Post(func() {
				for nick, name := range names {
					norm.SetDisplayName(server, nick, name)
				}
			})
		}, 0)
		resolver.Attach(hooks)
		sup.Add(resolver)
	}

	if cfg.NATS.URL != "" {
		fwd := plugin.NewNATSForwarder(cfg.NATS.URL, cfg.NATS.Subject)
		fwd.Attach(hooks)
		sup.Add(fwd)
	}

	if configFile != "" {
		sup.Add(config.NewWatcher(configFile, 0, func(next *config.Config) {
			applyConfig(ctx, store, l, engine, norm, manager, next)
		}))
	}

	handlers := server.NewHandlers(l, engine, manager, store, hub)
	sup.Add(server.New(cfg.HTTPAddr, server.NewRouter(handlers, server.Options{
		AdminToken:    cfg.AdminToken,
		AdminUsername: cfg.AdminUser,
		AdminPassword: cfg.AdminPass,
		CORSOrigins:   cfg.CORSOrigins,
	})))

	if err := l.Post(func() { manager.ConnectAll(servers) }); err != nil {
		return err
	}

	slog.Info("relay starting",
		slog.Int("servers", len(servers)),
		slog.Int("friends", snapshot.Len()),
		slog.String("http_addr", cfg.HTTPAddr))
	err = sup.Serve(ctx)
	hooks.Wait()
	return err
}

func newSupervisor() *suture.Supervisor {
	handler := &sutureslog.Handler{Logger: slog.Default()}
	return suture.New("relay", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
}

// syncRelationships stores the configured friends and triggers, then loads
// the full sets from storage.
func syncRelationships(ctx context.Context, store *db.Store, cfg *config.Config) (friends.Snapshot, []string, error) {
	for _, name := range cfg.Friends {
		if err := store.SetFriend(ctx, name, friends.Friend); err != nil {
			return friends.Snapshot{}, nil, err
		}
	}
	for _, name := range cfg.BestFriends {
		if err := store.SetFriend(ctx, name, friends.BestFriend); err != nil {
			return friends.Snapshot{}, nil, err
		}
	}
	for _, word := range cfg.NicknameTriggers {
		if err := store.AddNicknameTrigger(ctx, word); err != nil {
			return friends.Snapshot{}, nil, err
		}
	}
	snapshot, err := store.FriendsSnapshot(ctx)
	if err != nil {
		return friends.Snapshot{}, nil, err
	}
	triggers, err := store.NicknameTriggers(ctx)
	if err != nil {
		return friends.Snapshot{}, nil, err
	}
	return snapshot, triggers, nil
}

// warmCaches preloads every stored channel and the last-seen records. It
// runs before the loop starts.
func warmCaches(ctx context.Context, store *db.Store, engine *relay.Engine, size int) error {
	uris, err := store.Channels(ctx)
	if err != nil {
		return err
	}
	for _, uri := range uris {
		scope, err := naming.ParseURI(uri)
		if err != nil {
			slog.Warn("skipping stored channel", slog.String("component", "relay"), slog.String("channel", uri), slog.Any("err", err))
			continue
		}
		lines, err := store.RecentLines(ctx, uri, size)
		if err != nil {
			return err
		}
		engine.Preload(scope, lines)
	}
	channels, users, err := store.LoadLastSeen(ctx)
	if err != nil {
		return err
	}
	engine.LoadLastSeen(channels, users)
	slog.Info("caches warmed", slog.String("component", "relay"),
		slog.Int("channels", len(uris)), slog.Int("last_seen_users", len(users)))
	return nil
}

func newTokenRefresher(cfg *config.Config, store *db.Store, l *loop.Loop, manager *chat.Manager, serverName, provider string) *oauth.Refresher {
	tr := &twitchapi.Refresher{ClientID: cfg.Twitch.ClientID, ClientSecret: cfg.Twitch.ClientSecret}
	return &oauth.Refresher{
		Store:    store,
		Provider: provider,
		Refresh:  tr.Refresh,
		OnToken: func(tok *oauth2.Token) {
			_ = l.Post(func() { manager.SetToken(serverName, tok.AccessToken) })
		},
	}
}

// applyConfig hands a reloaded configuration to the running relay. Storage
// writes happen on the watcher goroutine; state changes are loop turns.
func applyConfig(ctx context.Context, store *db.Store, l *loop.Loop, engine *relay.Engine, norm *ingest.Normalizer, manager *chat.Manager, next *config.Config) {
	snapshot, triggers, relErr := syncRelationships(ctx, store, next)
	if relErr != nil {
		slog.Warn("config reload: relationships not updated", slog.String("component", "config"), slog.Any("err", relErr))
	}
	servers := next.ChatServers()
	for i, s := range next.Servers {
		if s.RefreshToken == "" {
			continue
		}
		if access, _, _, _, err := store.GetOAuthToken(ctx, oauth.Provider(s.Name)); err == nil && access != "" {
			servers[i].Token = access
		}
	}
	err := l.Post(func() {
		if relErr == nil {
			norm.SetFriends(snapshot)
			norm.SetTriggers(triggers)
		}
		norm.SetLogToFile(next.Features.LogToFile)
		engine.SetLogToDB(next.Features.LogToDB)
		engine.SetCacheSize(next.Cache.Size)
		manager.ApplyConfig(servers)
	})
	if err != nil {
		slog.Warn("config reload dropped", slog.String("component", "config"), slog.Any("err", err))
		return
	}
	slog.Info("configuration reloaded", slog.String("component", "config"), slog.Int("servers", len(servers)))
}

// originChecker allows every websocket origin unless origins is set.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}
