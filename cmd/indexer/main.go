// Command indexer wires the block dispatch pipeline (C8/C9) and the
// historical write-through entity cache (C1-C7) into a runnable
// process. Discovering block heights and deriving entity mutations
// from a block is a user handler's job (out of scope, see the design
// notes' non-goals) — fetchBlock/indexBlock below are placeholders a
// real deployment replaces with chain-specific logic.
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

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/chainindex/internal/cache/controller"
	"github.com/vietddude/chainindex/internal/cache/entitymodel"
	"github.com/vietddude/chainindex/internal/cache/metadatamodel"
	"github.com/vietddude/chainindex/internal/core/config"
	"github.com/vietddude/chainindex/internal/core/worker"
	"github.com/vietddude/chainindex/internal/dispatch"
	"github.com/vietddude/chainindex/internal/events"
	"github.com/vietddude/chainindex/internal/indexing/health"
	"github.com/vietddude/chainindex/internal/runtimemetrics"
	"github.com/vietddude/chainindex/internal/storage"
	"github.com/vietddude/chainindex/internal/storage/postgres"
)

// Block is the unit the fetch/index stage operates on.
type Block struct {
	Height uint64
}

// Widget is a placeholder entity type, standing in for whatever
// indexed entities a real deployment registers with the controller.
type Widget struct {
	Name  string `db:"name"`
	Owner string `db:"owner"`
}

var widgetSchema = storage.Schema{Table: "widgets", PKColumn: "id", Historical: true}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	isDebug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{Level: level, TimeFormat: time.RFC3339})
	slog.Info("logger initialized", "level", level.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(db, cfg.Pipeline.MigrationsDir); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if err := postgres.EnsureEntityTable[Widget](ctx, db, widgetSchema); err != nil {
		slog.Error("failed to ensure entity table", "error", err)
		os.Exit(1)
	}

	var sinks events.Fanout
	sinks = append(sinks, runtimemetrics.NewSink())
	if cfg.Redis.URL != "" {
		redisSink, err := events.NewRedisSink(cfg.Redis, slog.Default())
		if err != nil {
			slog.Warn("redis event sink unavailable, continuing without it", "error", err)
		} else {
			defer redisSink.Close()
			sinks = append(sinks, redisSink)
		}
	}

	ctrl := controller.New(db.Pool, cfg.Pipeline.FlushThreshold, sinks)

	widgetRepo := postgres.NewEntityRepo[Widget](db, widgetSchema)
	widgets := entitymodel.New[Widget](widgetRepo, entitymodel.Config{
		Historical:    true,
		CacheCapacity: cfg.Pipeline.CacheCapacity,
		CacheTTL:      cfg.Pipeline.CacheTTL,
	})
	ctrl.Register("widgets", widgets)

	metadataRepo := postgres.NewMetadataRepo(db, "metadata")
	metadata := metadatamodel.New(metadataRepo, nil)
	ctrl.SetMetadata(metadata)

	dispatcher := dispatch.NewSerial(ctx, dispatch.SerialConfig[Block]{
		BatchSize: cfg.Pipeline.BatchSize,
		Fetch:     dispatch.BoundedBatchFetcher(cfg.Pipeline.FetchConcurrency, fetchBlock),
		HeightOf:  func(b Block) dispatch.Height { return b.Height },
		Index: func(ctx context.Context, b Block) (dispatch.ProcessBlockResponse, error) {
			return indexBlock(widgets, b)
		},
		Flusher: ctrl,
		Events:  sinks,
		OnFatal: func(err error) {
			slog.Error("fatal pipeline error", "error", err)
			os.Exit(1)
		},
		Logger: slog.Default(),
	})

	ctrl.SetWatermarks(postgres.NewRuntimeStateRepo(db), cfg.Pipeline.RunID, func() (uint64, uint64, uint64) {
		return dispatcher.LatestProcessedHeight(), dispatcher.LatestBufferedHeight(), dispatcher.LatestFinalisedHeight()
	})

	resumeHeight := uint64(0)
	if processed, _, _, found, err := ctrl.LoadWatermarks(ctx, cfg.Pipeline.RunID); err != nil {
		slog.Error("failed to load persisted watermarks", "error", err)
		os.Exit(1)
	} else if found {
		resumeHeight = processed + 1
		slog.Info("resuming from persisted watermark", "height", resumeHeight)
	}

	flushTicker := worker.NewFlushTicker(ctrl, 30*time.Second, slog.Default(), sinks)
	go flushTicker.Start(ctx)

	stats := &pipelineStats{
		dispatcher:     dispatcher,
		controller:     ctrl,
		queueCapacity:  cfg.Pipeline.BatchSize * 3,
		flushThreshold: cfg.Pipeline.FlushThreshold,
	}
	monitor := health.NewMonitor(stats, stats)
	healthServer := health.NewServer(monitor, cfg.Server.Port, slog.Default())
	go func() {
		if err := healthServer.Start(); err != nil {
			slog.Warn("health server stopped", "error", err)
		}
	}()

	go discoverLoop(ctx, dispatcher, resumeHeight, cfg.Pipeline.BatchSize)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	dispatcher.OnApplicationShutdown()
	_ = healthServer.Stop(shutdownCtx)
	if ctrl.PendingCount() > 0 {
		if err := ctrl.Flush(shutdownCtx); err != nil {
			slog.Error("final flush failed", "error", err)
		}
	}
	cancel()
	slog.Info("indexer stopped gracefully")
}

// fetchBlock is a placeholder for a real chain client's per-height fetch.
func fetchBlock(ctx context.Context, h dispatch.Height) (Block, error) {
	return Block{Height: h}, nil
}

// indexBlock is a placeholder handler deriving entity mutations from a block.
func indexBlock(widgets *entitymodel.Model[Widget], b Block) (dispatch.ProcessBlockResponse, error) {
	widgets.Set(fmt.Sprintf("widget-%d", b.Height), Widget{Name: "demo", Owner: "system"}, b.Height)
	return dispatch.ProcessBlockResponse{}, nil
}

// discoverLoop simulates new-height discovery, standing in for a real
// chain client's head-polling loop (out of scope, see non-goals).
func discoverLoop(ctx context.Context, d *dispatch.Serial[Block], from uint64, batchSize int) {
	next := from
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			heights := make([]dispatch.Height, 0, batchSize)
			for i := 0; i < batchSize; i++ {
				heights = append(heights, next)
				next++
			}
			d.EnqueueBlocks(ctx, heights, nil)
		}
	}
}

type pipelineStats struct {
	dispatcher     *dispatch.Serial[Block]
	controller     *controller.Controller
	queueCapacity  int
	flushThreshold int
}

func (s *pipelineStats) LatestProcessedHeight() uint64 { return s.dispatcher.LatestProcessedHeight() }
func (s *pipelineStats) QueueOccupied() int             { return s.dispatcher.Heights().Size() }
func (s *pipelineStats) QueueCapacity() int             { return s.queueCapacity }
func (s *pipelineStats) PendingFlushRecords() int       { return s.controller.PendingCount() }
func (s *pipelineStats) FlushThreshold() int            { return s.flushThreshold }
func (s *pipelineStats) GetTipHeight(ctx context.Context) (uint64, error) {
	return s.dispatcher.LatestBufferedHeight(), nil
}
