package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/receipt-processor/config"
	"github.com/feichai0017/receipt-processor/internal/agent"
	"github.com/feichai0017/receipt-processor/internal/agent/assistant"
	"github.com/feichai0017/receipt-processor/internal/bootstrap"
	"github.com/feichai0017/receipt-processor/internal/service/extraction"
	"github.com/feichai0017/receipt-processor/internal/service/structuring"
	"github.com/feichai0017/receipt-processor/pkg/health"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
	"github.com/feichai0017/receipt-processor/pkg/worker"
)

const healthInterval = 10 * time.Second

func main() {
	stage := flag.String("stage", queue.QueueTextExtraction, "queue to consume: text-extraction or structuring")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := bootstrap.NewLogger(cfg.Log, "worker:"+*stage)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, *stage, log); err != nil {
		log.Error("Worker exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, stage string, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	handler, wait, err := newHandler(ctx, infra, stage)
	if err != nil {
		return err
	}

	stageWorker, err := worker.NewStageWorker(infra.WorkerConfig(stage), handler, log)
	if err != nil {
		return err
	}

	hs := health.NewServer(log)
	if err := hs.ListenAndServe(cfg.Server.HealthAddr); err != nil {
		return err
	}
	defer hs.Stop()
	go hs.Monitor(ctx, stage, healthInterval, infra.Ping)

	// 启动 worker
	if err := stageWorker.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down worker...")
	stageWorker.Stop()
	wait()
	return nil
}

// newHandler wires the stage's capabilities. The returned wait blocks on
// background work the handler still owns.
func newHandler(ctx context.Context, infra *bootstrap.Infra, stage string) (worker.StageHandler, func(), error) {
	cfg, log := infra.Config, infra.Logger
	switch stage {
	case queue.QueueTextExtraction:
		detector, err := agent.NewDetector(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		w := extraction.NewWorker(extraction.Config{
			FailWriteTimeout: cfg.Pipeline.FailWriteTimeout,
		}, infra.Store, infra.Storage, detector, infra.Queue, log)
		return w, func() {}, nil

	case queue.QueueStructuring:
		client, err := assistant.NewOpenAIClient(cfg.OpenAI, log)
		if err != nil {
			return nil, nil, err
		}
		w := structuring.NewWorker(structuring.Config{
			PollInterval:     cfg.Pipeline.PollInterval,
			MaxWait:          cfg.Pipeline.MaxWait,
			PresignTTL:       cfg.Storage.PresignTTL,
			FailWriteTimeout: cfg.Pipeline.FailWriteTimeout,
			FiscalTimeout:    cfg.Fiscal.Timeout,
		}, infra.Store, infra.Storage, client, infra.FiscalLookup(), log)
		return w, w.Wait, nil

	default:
		return nil, nil, fmt.Errorf("unknown stage %q", stage)
	}
}
