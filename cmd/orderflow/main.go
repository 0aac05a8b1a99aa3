// Command orderflow wires the full real-time orderflow analytics pipeline
// (spec.md §1-§9): a sequenced order book, the trade preprocessor, the five
// stateful detectors, the market health monitor, and the signal manager.
// It replays a recorded trade/depth fixture over a local WebSocket loopback
// (internal/feed/wsreplay) to exercise the pipeline end to end, the same
// demo/integration role the teacher's cmd/cryptorun/main.go plays for its
// own scanning pipeline.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/config"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/absorption"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/accumdist"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/base"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/cvd"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/detect/exhaustion"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/feed/wsreplay"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/health"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/orderbook"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/preprocess"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/signalmgr"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/storage"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/telemetry"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/zones"
)

const (
	appName = "orderflow"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time orderflow analytics engine",
		Version: version,
		Long: `orderflow detects absorption, exhaustion, accumulation, distribution, and
CVD-confirmation patterns from a single spot pair's order book and trade
stream, prioritizing and dispatching the resulting signals through a
backpressure-aware signal manager.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline against a recorded trade/depth fixture",
		RunE:  runPipeline,
	}
	runCmd.Flags().String("config", "", "path to a YAML config file (optional, falls back to defaults)")
	runCmd.Flags().String("symbol", "BTCUSDT", "trading pair symbol")
	runCmd.Flags().String("fixture", "", "path to a JSON-lines fixture of wsreplay.Event records")
	runCmd.Flags().Duration("pace", 5*time.Millisecond, "replay pacing interval")
	_ = runCmd.MarkFlagRequired("fixture")

	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("orderflow failed")
	}
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	symbol, _ := cmd.Flags().GetString("symbol")
	fixturePath, _ := cmd.Flags().GetString("fixture")
	pace, _ := cmd.Flags().GetDuration("pace")

	cfg, err := loadConfig(configPath, symbol)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	events, err := loadFixture(fixturePath)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}
	log.Info().Str("fixture", fixturePath).Int("events", len(events)).Msg("loaded replay fixture")

	p := newPipeline(cfg, log.Logger)
	defer p.signalMgr.Close()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/stream", wsreplay.NewServer(events, pace, log.Logger))
	httpServer := &http.Server{Handler: mux}
	go func() { _ = httpServer.Serve(listener) }()
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := wsreplay.NewClient(fmt.Sprintf("ws://%s/stream", listener.Addr().String()), log.Logger)
	if err := client.Run(ctx, wsreplay.Handlers{
		OnSnapshot: p.onSnapshot,
		OnDepth:    p.onDepth,
		OnTrade:    p.onTrade,
	}); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	for p.signalMgr.ProcessBatch(ctx) > 0 {
	}
	stats := p.signalMgr.Stats()
	log.Info().
		Uint64("received", stats.Received).
		Uint64("confirmed", stats.Confirmed).
		Uint64("rejected_confidence", stats.RejectedConfidence).
		Uint64("rejected_conflict", stats.RejectedConflict).
		Uint64("dropped_throttle", stats.DroppedThrottle).
		Uint64("dropped_backpressure", stats.DroppedBackpressure).
		Msg("replay complete")
	return nil
}

// pipeline holds every per-symbol component wired together, mirroring the
// single market-data-worker ownership model spec.md §5 describes: one book,
// one zone store, one preprocessor, fed sequentially off one event stream.
type pipeline struct {
	book       *orderbook.Book
	zoneStore  *zones.Store
	pre        *preprocess.Preprocessor
	healthMon  *health.Monitor
	signalMgr  *signalmgr.Manager
	absorption *absorption.Detector
	exhaustion *exhaustion.Detector
	accumDist  *accumdist.Detector
	cvd        *cvd.Detector
	log        zerolog.Logger
}

func newPipeline(cfg config.Config, logger zerolog.Logger) *pipeline {
	book := orderbook.New(cfg.Symbol.Name, cfg.Book, nil, logger)
	zoneStore := zones.NewStore(cfg.Zones)
	pre := preprocess.New(cfg.Preprocess, book, zoneStore)
	healthMon := health.New(cfg.Health)

	metrics := telemetryRegistryOrNil(cfg)
	sink := storageSinkFor(cfg, logger)
	consumer := &logConsumer{log: logger}

	mgr := signalmgr.New(cfg.SignalMgr, cfg.Symbol.Name, consumer, sink, metrics, logger)

	return &pipeline{
		book:       book,
		zoneStore:  zoneStore,
		pre:        pre,
		healthMon:  healthMon,
		signalMgr:  mgr,
		absorption: absorption.New(cfg.Absorption, "absorption-1", mgr, nil, logger),
		exhaustion: exhaustion.New(cfg.Exhaustion, "exhaustion-1", mgr, nil, logger),
		accumDist:  accumdist.New(cfg.AccumDist, "accumdist-1", mgr, nil, logger),
		cvd:        cvd.New(cfg.CVD, "cvd-1", mgr, nil, logger),
		log:        logger,
	}
}

func (p *pipeline) onSnapshot(s orderbook.Snapshot) {
	p.book.Recover(s)
}

func (p *pipeline) onDepth(d orderbook.DepthUpdate) {
	if err := p.book.ApplyDepthUpdate(d); err != nil {
		p.log.Warn().Err(err).Msg("depth update resulted in resync")
	}
}

func (p *pipeline) onTrade(raw preprocess.RawTrade) {
	et, err := p.pre.Process(raw)
	if err != nil {
		p.log.Warn().Err(err).Int64("trade_id", raw.TradeID).Msg("dropping invalid trade")
		return
	}

	p.absorption.OnTrade(et)
	p.exhaustion.OnTrade(et)
	p.accumDist.OnTrade(et)
	p.cvd.OnTrade(et)

	var aggBuy, aggSell fixedpoint.Ticks
	if et.Side() == zones.SideBuy {
		aggBuy = et.QtyTicks
	} else {
		aggSell = et.QtyTicks
	}
	summary := p.healthMon.Observe(et.MidTicks, et.SpreadTicks, aggBuy, aggSell)
	if !summary.IsHealthy {
		p.log.Warn().
			Str("recommendation", string(summary.Recommendation)).
			Float64("volatility_ratio", summary.VolatilityRatio).
			Msg("market health degraded")
	}
}

// logConsumer prints dispatched signal candidates; a real deployment would
// forward these to the dashboard/alerting collaborator named in spec.md §1.
type logConsumer struct {
	log zerolog.Logger
}

func (c *logConsumer) Dispatch(cand base.Candidate) {
	c.log.Info().
		Str("id", cand.ID).
		Str("type", string(cand.Type)).
		Int("side", int(cand.Side)).
		Float64("confidence", cand.Confidence).
		Str("correlation_id", cand.CorrelationID).
		Msg("signal dispatched")
}

func loadConfig(path, symbol string) (config.Config, error) {
	if path == "" {
		return config.Default(symbol), nil
	}
	return config.Load(path, symbol)
}

// telemetryRegistryOrNil builds a fresh, process-local Prometheus registry
// for this run rather than reaching for the global DefaultRegisterer, so
// repeated demo runs in the same process never collide on metric names.
func telemetryRegistryOrNil(cfg config.Config) *telemetry.Registry {
	return telemetry.NewRegistry(prometheus.NewRegistry())
}

func storageSinkFor(cfg config.Config, logger zerolog.Logger) storage.CandidateSink {
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		return storage.NoopSink{}
	}
	db, err := sqlx.Connect("postgres", cfg.Storage.DSN)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect storage sink, falling back to noop")
		return storage.NoopSink{}
	}
	return storage.NewPostgresSink(db)
}

// loadFixture reads one JSON wsreplay.Event object per line (or
// whitespace-separated, since encoding/json's Decoder handles both).
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
