package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/orderflow-lab/orderflow/internal/applier"
	"github.com/orderflow-lab/orderflow/internal/core/aggregation"
	corecfg "github.com/orderflow-lab/orderflow/internal/core/config"
	"github.com/orderflow-lab/orderflow/internal/core/storage/postgres"
	"github.com/orderflow-lab/orderflow/internal/engine"
	"github.com/orderflow-lab/orderflow/internal/eventlog"
	"github.com/orderflow-lab/orderflow/internal/eventlog/kafka"
	"github.com/orderflow-lab/orderflow/internal/eventlog/memlog"
	"github.com/orderflow-lab/orderflow/internal/migrations"
	"github.com/orderflow-lab/orderflow/internal/publisher"
	"github.com/orderflow-lab/orderflow/internal/server"
)

// logDriver abstracts the event log backend so the rest of the wiring is
// identical for Kafka and the in-process memory log.
type logDriver interface {
	Consumer(topic, group string) (eventlog.Consumer, error)
	Writer(topic string) (eventlog.Writer, error)
}

type kafkaDriver struct {
	brokers []string
}

func (d kafkaDriver) Consumer(topic, group string) (eventlog.Consumer, error) {
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: d.brokers,
		Topic:   topic,
		GroupID: group,
	})
}

func (d kafkaDriver) Writer(topic string) (eventlog.Writer, error) {
	return kafka.NewWriter(d.brokers, topic)
}

type memoryDriver struct {
	log *memlog.Log
}

func (d memoryDriver) Consumer(topic, group string) (eventlog.Consumer, error) {
	return d.log.NewConsumer(topic, group), nil
}

func (d memoryDriver) Writer(topic string) (eventlog.Writer, error) {
	return d.log.Writer(topic), nil
}

func newLogDriver(cfg corecfg.LogConfig) logDriver {
	if cfg.Driver == "memory" {
		return memoryDriver{log: memlog.New()}
	}
	return kafkaDriver{brokers: cfg.Brokers}
}

func main() {
	configPath := flag.String("config", "orderflow.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Event Log
	driver := newLogDriver(cfg.Log)

	// 4. Initialize Applier (idempotent event consumer)
	applierSvc := applier.NewService(dbAdapter, applier.OrderHandlers())
	applierConsumer, err := driver.Consumer(cfg.Log.EventsTopic, cfg.Log.ApplierGroup)
	if err != nil {
		slog.Error("Failed to create applier consumer", "error", err)
		os.Exit(1)
	}

	// 5. Initialize Pipelines (join-aggregate engine)
	ruleRepo, err := aggregation.NewFileSystemRuleRepository(cfg.Engine.RulesDir, cfg.Engine.WindowSize())
	if err != nil {
		slog.Error("Failed to load pipeline rules", "error", err)
		os.Exit(1)
	}

	hub := publisher.NewHub(cfg.Publisher.BufferSize)
	defer hub.Close()

	dims := engine.NewDimTable()
	joinCfg := engine.JoinConfig{
		MissingDimPolicy:  cfg.Engine.MissingDimPolicy,
		PendingBufferSize: cfg.Engine.PendingBufferSize,
		PendingWait:       cfg.Engine.PendingWaitDuration(),
	}
	aggCfg := engine.AggregateConfig{
		GracePeriod: cfg.Engine.GraceDuration(),
		Precision:   int32(cfg.Engine.Precision),
	}

	runtimes, err := buildPipelines(driver, cfg, ruleRepo.Rules(), dims, joinCfg, aggCfg, hub)
	if err != nil {
		slog.Error("Failed to build pipelines", "error", err)
		os.Exit(1)
	}

	dimConsumer, err := driver.Consumer(cfg.Log.DimensionsTopic, cfg.Log.DimensionGroup)
	if err != nil {
		slog.Error("Failed to create dimension consumer", "error", err)
		os.Exit(1)
	}
	eng := engine.New(dims, dimConsumer, runtimes)

	// 6. Initialize Server
	srv := server.New(cfg.Server.Addr(), dbAdapter.DB(), cfg.Server.Mode, hub, eng.Snapshot)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer applierConsumer.Close()
		return applierSvc.Run(ctx, applierConsumer)
	})
	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}

// buildPipelines assembles one two-stage pipeline per configured rule. Each
// pipeline gets its own re-key topic and consumer groups so pipelines never
// contend for offsets.
func buildPipelines(
	driver logDriver,
	cfg *corecfg.Config,
	rules []aggregation.PipelineRule,
	dims *engine.DimTable,
	joinCfg engine.JoinConfig,
	aggCfg engine.AggregateConfig,
	hub *publisher.Hub,
) ([]engine.PipelineRuntime, error) {
	runtimes := make([]engine.PipelineRuntime, 0, len(rules))
	for _, rule := range rules {
		rekeyTopic := cfg.Log.RekeyTopic(rule.Name)

		rekeyWriter, err := driver.Writer(rekeyTopic)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", rule.Name, err)
		}
		factConsumer, err := driver.Consumer(cfg.Log.FactsTopic, cfg.Log.JoinGroup+"-"+rule.Name)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", rule.Name, err)
		}
		rekeyConsumer, err := driver.Consumer(rekeyTopic, cfg.Log.AggregateGroup+"-"+rule.Name)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", rule.Name, err)
		}

		agg, err := engine.NewAggregateStage(rule, aggCfg, hub.Publish)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", rule.Name, err)
		}

		runtimes = append(runtimes, engine.PipelineRuntime{
			Pipeline: &engine.Pipeline{
				Rule: rule,
				Join: engine.NewJoinStage(rule, dims, rekeyWriter, joinCfg),
				Agg:  agg,
			},
			FactConsumer:  factConsumer,
			RekeyConsumer: rekeyConsumer,
		})
	}
	return runtimes, nil
}
