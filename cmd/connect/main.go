package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/retake-earth/connect/internal/config"
	"github.com/retake-earth/connect/internal/deadletter"
	"github.com/retake-earth/connect/internal/embeddings"
	"github.com/retake-earth/connect/internal/encode"
	"github.com/retake-earth/connect/internal/metrics"
	"github.com/retake-earth/connect/internal/pipeline"
	"github.com/retake-earth/connect/internal/registry"
	kafkasink "github.com/retake-earth/connect/internal/sink/kafka"
	"github.com/retake-earth/connect/internal/transform"
)

type healthz struct {
	Status    string        `json:"status"`
	Processed int64         `json:"processed"`
	Committed map[int]int64 `json:"committed_offsets"`
	Timestamp string        `json:"timestamp"`
}

func main() {
	zapConfig := zap.NewProductionConfig()
	logger, _ := zapConfig.Build()
	defer logger.Sync()

	logger.Info("starting connect")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	logger.Info("configuration loaded",
		zap.String("source_topic", cfg.Kafka.SourceTopic),
		zap.String("destination_topic", cfg.Kafka.DestinationTopic),
		zap.String("dead_letter_topic", cfg.Kafka.DeadLetterTopic),
		zap.String("embed_provider", cfg.Embed.Provider),
		zap.Int("schema_id", cfg.Registry.SchemaID))

	embedder, err := embeddings.NewProvider(cfg.Embed, logger)
	if err != nil {
		logger.Fatal("embedder init failed", zap.Error(err))
	}
	defer embedder.Close()

	// The embedding dimension is a contract with the output schema; check it
	// once before consuming anything.
	if cfg.Embed.VectorSize > 0 {
		probeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := embeddings.VerifyDimension(probeCtx, embedder, cfg.Embed.VectorSize)
		cancel()
		if err != nil {
			logger.Fatal("embedding dimension check failed", zap.Error(err))
		}
	}

	mapper := transform.NewColumnMapper(cfg.Mapping, embedder, cfg.Embed.Normalize)

	// Schema resolution happens once here; the serializer cannot be
	// constructed without it, so failure is fatal.
	schemas := registry.NewCache(registry.NewFetcher(cfg.Registry.URL), logger)
	definition, err := schemas.Resolve(cfg.Registry.SchemaID)
	if err != nil {
		logger.Fatal("schema resolution failed", zap.Error(err))
	}
	encoder, err := encode.NewEnvelope(cfg.Registry.SchemaID, definition)
	if err != nil {
		logger.Fatal("output encoder init failed", zap.Error(err))
	}

	producer := kafkasink.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.DestinationTopic, logger)
	defer producer.Close()

	dlq := deadletter.NewKafkaQueue(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic, logger)
	defer dlq.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.Group,
		Topic:   cfg.Kafka.SourceTopic,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Sugar().Errorf("kafka reader: "+msg, args...)
		}),
	})
	defer reader.Close()

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(collectors.NewGoCollector())
	pipelineMetrics := metrics.New(registerer)

	pl := pipeline.NewPipeline(reader, mapper, encoder, producer, dlq, cfg, pipelineMetrics, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := pl.Status()
		resp := healthz{
			Status:    "running",
			Processed: st.Processed,
			Committed: st.Committed,
			Timestamp: time.Now().Format(time.RFC3339),
		}
		b, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runDone := make(chan error, 1)
	go func() { runDone <- pl.Run(ctx) }()

	var runErr error
	select {
	case runErr = <-runDone:
		if runErr != nil {
			logger.Error("pipeline failed", zap.Error(runErr))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		select {
		case runErr = <-runDone:
		case <-time.After(30 * time.Second):
			logger.Warn("shutdown timeout reached, forcing exit")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	if runErr != nil {
		os.Exit(1)
	}
}
