package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/segscribe/internal/api"
	"github.com/snarg/segscribe/internal/config"
	"github.com/snarg/segscribe/internal/media"
	"github.com/snarg/segscribe/internal/metrics"
	"github.com/snarg/segscribe/internal/mqttclient"
	"github.com/snarg/segscribe/internal/pipeline"
	"github.com/snarg/segscribe/internal/transcribe"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code once every deferred shutdown step has
// completed.
func run() int {
	startTime := time.Now()

	var overrides config.Overrides
	var showVersion bool
	var inputFile, language string
	var autoDetect bool
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.WorkDir, "work-dir", "", "Working directory for uploads and segments (overrides WORK_DIR)")
	flag.StringVar(&inputFile, "file", "", "Transcribe this file, print the transcript and exit")
	flag.StringVar(&language, "language", "", "Output language for --file (default: STT_LANGUAGE)")
	flag.BoolVar(&autoDetect, "auto-detect", false, "Let the service detect the source language (--file only)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("segscribe %s (commit=%s, built=%s)\n", version, commit, buildTime)
		return 0
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Error().Err(err).Msg("failed to load config")
		return 1
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	// One-shot mode keeps stdout for the transcript.
	logOut := os.Stdout
	if inputFile != "" {
		logOut = os.Stderr
	}
	log := zerolog.New(logOut).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("stt_model", cfg.STTModel).
		Dur("segment_duration", cfg.SegmentDuration).
		Str("work_dir", cfg.WorkDir).
		Msg("segscribe starting")

	for _, bin := range []string{cfg.FFmpegPath, cfg.FFprobePath} {
		if !media.Available(bin) {
			log.Warn().Str("binary", bin).Msg("media tool not found in PATH")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Progress events: in-process bus for SSE, plus MQTT when configured
	bus := pipeline.NewEventBus(256)
	publishers := pipeline.Publishers{bus}
	var mqttConn api.ConnChecker
	if cfg.MQTTEnabled() {
		mc, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Log:         log,
		})
		if err != nil {
			log.Error().Err(err).Str("broker", cfg.MQTTBrokerURL).Msg("mqtt connect failed, progress events stay local")
		} else {
			defer mc.Close()
			publishers = append(publishers, mc)
			mqttConn = mc
		}
	}

	stt := transcribe.NewClient(transcribe.ClientOptions{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.STTBaseURL,
		Model:   cfg.STTModel,
		Prompt:  cfg.STTPrompt,
		Timeout: cfg.STTTimeout,
		Log:     log,
	})
	retrier := transcribe.NewRetrier(stt, transcribe.RetryOptions{
		MaxAttempts:     cfg.RetryMaxAttempts,
		Delay:           cfg.RetryDelay,
		RetryStructural: cfg.RetryStructural,
		Log:             log,
	})
	segmenter := media.NewSegmenter(media.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		SettleDelay: cfg.SettleDelay,
		Log:         log,
	})
	pipe := pipeline.New(pipeline.Options{
		Segmenter:       segmenter,
		Transcriber:     retrier,
		WorkDir:         cfg.WorkDir,
		SegmentDuration: cfg.SegmentDuration,
		SegmentPause:    cfg.SegmentPause,
		JobTimeout:      cfg.JobTimeout,
		Language:        cfg.STTLanguage,
		Publisher:       publishers,
		Log:             log,
	})

	if inputFile != "" {
		return runOnce(ctx, pipe, inputFile, pipeline.JobOptions{Language: language, AutoDetect: autoDetect}, log)
	}

	if _, err := pipe.SweepStale(filepath.Join(cfg.WorkDir, "uploads")); err != nil {
		log.Warn().Err(err).Msg("failed to sweep stale job files")
	}

	prometheus.MustRegister(metrics.NewCollector(pipe, cfg.WorkDir))

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Jobs:      pipe,
		Stats:     pipe,
		STT:       stt,
		Events:    bus,
		MQTT:      mqttConn,
		Version:   fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime: startTime,
		Log:       httpLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			code = 1
		}
	}

	// In-flight jobs get a short grace period; their contexts are canceled
	// when the server closes the connections.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	stats := retrier.Stats()
	_, completed, failed := pipe.Stats()
	log.Info().
		Int64("jobs_completed", completed).
		Int64("jobs_failed", failed).
		Int64("segments_succeeded", stats.Succeeded).
		Int64("segments_failed", stats.Failed).
		Msg("segscribe stopped")
	return code
}

// runOnce transcribes a copy of path so the caller's file survives the
// pipeline's source cleanup. The copy lives in a private temp directory, away
// from a server's uploads. Returns the process exit code.
func runOnce(ctx context.Context, pipe *pipeline.Pipeline, path string, opts pipeline.JobOptions, log zerolog.Logger) int {
	stageDir, err := os.MkdirTemp("", "segscribe-")
	if err != nil {
		log.Error().Err(err).Msg("cannot create staging directory")
		return 1
	}
	defer os.RemoveAll(stageDir)

	src, err := stageInput(path, stageDir)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("cannot read input")
		return 1
	}

	res, err := pipe.Process(ctx, src, opts)
	if err != nil {
		var pe *pipeline.PipelineError
		if errors.As(err, &pe) {
			log.Error().Err(err).Msg("transcription failed")
			return 2
		}
		log.Error().Err(err).Msg("transcription aborted")
		return 1
	}

	fmt.Println(res.Transcript)
	s := res.Summary
	log.Info().
		Int("segments", s.TotalSegments).
		Ints("failed_indices", s.FailedIndices).
		Float64("success_percent", s.SuccessPercentage).
		Msg("done")
	if !s.Complete() {
		return 3
	}
	return 0
}
