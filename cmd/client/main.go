package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parley/internal/auth"
	"parley/internal/config"
	"parley/internal/models"
	"parley/internal/rest"
	"parley/internal/session"
	"parley/internal/transport"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	roomID := flag.String("room", "", "room to open on start")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	creds := auth.NewStore()
	token, err := cfg.ResolveToken()
	if err != nil {
		slog.Error("failed to read credential", "error", err)
		os.Exit(1)
	}
	if token != "" {
		if err := creds.Set(token); err != nil {
			slog.Error("rejecting configured credential", "error", err)
			os.Exit(1)
		}
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 15*time.Second)
	channel, err := transport.Dial(dialCtx, cfg.Server.WSURL, creds)
	dialCancel()
	if err != nil {
		slog.Error("failed to connect realtime transport", "url", cfg.Server.WSURL, "error", err)
		os.Exit(1)
	}
	defer channel.Close()
	slog.Info("realtime transport connected", "url", cfg.Server.WSURL)

	api := rest.NewClient(cfg.Server.BaseURL, creds)

	sess := session.New(api, session.WrapChannel(channel), session.Options{
		SelfID:         creds.Subject(),
		MaxFiles:       cfg.Compose.MaxFiles,
		MaxTextLen:     cfg.Compose.MaxTextLen,
		PreviewMaxEdge: cfg.Preview.MaxEdge,
		PreviewQuality: cfg.Preview.Quality,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	if *roomID != "" {
		if err := sess.SelectRoom(roomFromFlag(*roomID)); err != nil {
			slog.Error("failed to select room", "room_id", *roomID, "error", err)
			os.Exit(1)
		}
		slog.Info("room selected", "room_id", *roomID)
	}

	go func() {
		for err := range sess.Errors() {
			slog.Warn("session error", "error", err)
		}
	}()

	go printDeliveries(sess)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	cancel()
	channel.Close()
	<-channel.Done()
}

// printDeliveries polls the store and prints messages as they land.
// This binary is reference wiring; a real frontend consumes
// sess.Messages() from its own render loop instead.
func printDeliveries(sess *session.Session) {
	seen := 0
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		messages := sess.Messages()
		for ; seen < len(messages); seen++ {
			msg := messages[seen]
			fmt.Printf("[%s] %s: %s\n",
				msg.CreatedAt.Format(time.TimeOnly), msg.Sender.DisplayName, msg.Text)
		}
	}
}

func roomFromFlag(id string) *models.Room {
	return &models.Room{ID: id}
}
