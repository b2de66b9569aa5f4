package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"palaver/internal/config"
	"palaver/internal/hub"
	"palaver/internal/server"
	"palaver/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	ctx := context.Background()

	st, err := store.New(ctx, store.Config{
		DatabaseURL:  cfg.DatabaseURL,
		RedisURL:     cfg.RedisURL,
		HistoryLimit: cfg.HistoryLimit,
	})
	if err != nil {
		log.Fatal("Failed to open store: ", err)
	}

	if err := st.InitSchema(ctx); err != nil {
		log.Fatal("Failed to apply schema: ", err)
	}
	if err := st.EnsureGeneral(ctx); err != nil {
		log.Fatal("Failed to ensure general channel: ", err)
	}

	secret := []byte(cfg.JWTSecret)

	h := hub.NewHub(st, secret, hub.TypingTimeout(cfg.TypingTimeout))

	srv := server.NewServer(cfg.Addr(), secret, st, h, http.HandlerFunc(h.ServeWS), func() {
		h.Shutdown()
		st.Close()
	})

	if err := srv.Start(); err != nil {
		log.Fatal("Server error: ", err)
	}
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
