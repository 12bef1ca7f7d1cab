package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"word-guess-service/internal/app"
	"word-guess-service/internal/config"
	"word-guess-service/internal/infra/memory"
	pgloader "word-guess-service/internal/infra/postgres"
	redisthemes "word-guess-service/internal/infra/redis"
	"word-guess-service/internal/judge"
	transport "word-guess-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	adjudicator := judge.NewOpenAIJudge(judge.OpenAIConfig{
		ChatCompletionsURL: cfg.Judge.BaseURL,
		APIKey:             cfg.Judge.APIKey,
		Model:              cfg.Judge.Model,
		Timeout:            config.Duration(cfg.Judge.Timeout, 30*time.Second),
	})

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.ThemeLoader = memory.NewStaticThemeLoader(sampleThemes())
	if pool != nil {
		loader = pgloader.NewThemeLoader(pool)
	} else if cfg.Themes.File != "" {
		loader = memory.NewFileThemeLoader(cfg.Themes.File)
	}

	themeTTL := config.Duration(cfg.Themes.TTL, 10*time.Minute)
	var themes app.ThemePool
	if redisClient != nil {
		themes = redisthemes.NewThemePool(redisClient, loader, themeTTL)
	} else {
		themes = memory.NewThemePool(loader, themeTTL)
	}

	registry := app.NewRegistry(adjudicator, themes, app.Options{
		Tick:        config.Duration(cfg.Game.Tick, time.Second),
		SettleDelay: config.Duration(cfg.Game.SettleDelay, 5*time.Second),
	})

	apiHandler := transport.NewAPIHandler(registry, cfg.Admin.Password)
	wsHandler := transport.NewWSHandler(registry)
	router := transport.NewRouter(apiHandler, wsHandler)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting word guess service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleThemes seeds the pool when neither Postgres nor a theme file is
// configured.
func sampleThemes() []string {
	return []string{
		"Mount Fuji",
		"Statue of Liberty",
		"Piano",
		"Albert Einstein",
		"Shiba Inu",
		"Northern Lights",
	}
}
