package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/chat-session-go/internal/client"
	"github.com/openclaw/chat-session-go/internal/config"
	"github.com/openclaw/chat-session-go/internal/history"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.AccessToken == "" {
		log.Fatal().Msg("CHAT_ACCESS_TOKEN is required")
	}

	var store history.Store
	if cfg.HistoryDatabaseURL != "" {
		store, err = history.Open(cfg.HistoryDatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open history store")
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.ArchiveTimeout)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure history schema")
		}
		cancel()
		log.Info().Msg("transcript archive enabled")
	}

	renderer := newRenderer()

	c := client.New(client.Options{
		BrokerURL:         cfg.BrokerURL,
		TokenFunc:         func() string { return cfg.AccessToken },
		TokenInURL:        cfg.TokenInURL,
		HeartbeatInterval: cfg.Heartbeat(),
		RedialDelay:       cfg.RedialDelay(),
		Logger:            log.Logger,
		OnUpdate:          renderer.render,
		OnSessionEnd:      archiveFunc(store),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer c.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(lines)

	printHelp()

	for {
		select {
		case <-quit:
			fmt.Println("bye")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if done := dispatch(c, line); done {
				return
			}
		}
	}
}

func dispatch(c *client.Client, line string) bool {
	switch {
	case line == "/quit":
		return true
	case line == "/find":
		if err := c.FindPartner(); err != nil {
			log.Error().Err(err).Msg("find failed")
		}
	case line == "/invite":
		if err := c.CreateInvite(); err != nil {
			log.Error().Err(err).Msg("invite failed")
		}
	case strings.HasPrefix(line, "/join "):
		if err := c.JoinWithInvite(strings.TrimPrefix(line, "/join ")); err != nil {
			log.Error().Err(err).Msg("join failed")
		}
	case line == "/leave":
		c.ResetChat(false)
	case line == "/reconnect":
		if err := c.Reconnect(); err != nil {
			log.Error().Err(err).Msg("reconnect failed")
		}
	case line == "/help":
		printHelp()
	default:
		c.SetDraft(line)
		if err := c.SendMessage(line); err != nil {
			log.Error().Err(err).Msg("send failed")
		}
	}
	return false
}

func readLines(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
}

func printHelp() {
	fmt.Println("commands: /find  /invite  /join CODE  /leave  /reconnect  /quit  (anything else is sent as a message)")
}

func archiveFunc(store history.Store) func(client.EndedSession) {
	if store == nil {
		return nil
	}
	return func(ended client.EndedSession) {
		entries := make([]history.Entry, 0, len(ended.Entries))
		for _, e := range ended.Entries {
			entries = append(entries, history.Entry{
				Kind:    string(e.Kind),
				Content: e.Content,
				Sender:  e.Sender,
				Ts:      e.Ts,
			})
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.ArchiveTimeout)
		defer cancel()
		err := store.SaveTranscript(ctx, history.Transcript{
			SessionID: ended.SessionID,
			Partner:   ended.Partner,
			EndedAt:   time.Now(),
			Entries:   entries,
		})
		if err != nil {
			log.Error().Err(err).Str("sessionId", ended.SessionID).Msg("failed to archive transcript")
		}
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
