// Command feedreplay serves a recorded AggTrade/DiffDepth fixture over a
// local WebSocket, standing in for the exchange collaborator boundary
// (spec.md §1) so the orderflow pipeline can be exercised end to end
// without a live exchange connection.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/feed/wsreplay"
)

const (
	appName = "feedreplay"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Replay a recorded trade/depth fixture over a local WebSocket",
		Version: version,
		RunE:    runServe,
	}
	rootCmd.Flags().String("fixture", "", "path to a JSON-lines fixture of wsreplay.Event records")
	rootCmd.Flags().String("addr", ":8089", "address to listen on")
	rootCmd.Flags().Duration("interval", 10*time.Millisecond, "pacing interval between events")
	_ = rootCmd.MarkFlagRequired("fixture")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("feedreplay failed")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	fixturePath, _ := cmd.Flags().GetString("fixture")
	addr, _ := cmd.Flags().GetString("addr")
	interval, _ := cmd.Flags().GetDuration("interval")

	events, err := loadFixture(fixturePath)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}
	log.Info().Str("fixture", fixturePath).Int("events", len(events)).Msg("loaded replay fixture")

	srv := wsreplay.NewServer(events, interval, log.Logger)

	mux := http.NewServeMux()
	mux.Handle("/stream", srv)

	httpServer := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	log.Info().Str("addr", addr).Msg("feedreplay listening at /stream")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// loadFixture reads one JSON wsreplay.Event object per line.
func loadFixture(path string) ([]wsreplay.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	var events []wsreplay.Event
	for {
		var ev wsreplay.Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
