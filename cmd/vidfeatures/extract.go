package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/bdougie/vidfeatures/internal/analyzer"
	"github.com/bdougie/vidfeatures/internal/config"
	"github.com/bdougie/vidfeatures/internal/embeddings"
	"github.com/bdougie/vidfeatures/internal/extractor"
	"github.com/bdougie/vidfeatures/internal/extractor/decoder"
	"github.com/bdougie/vidfeatures/internal/metrics"
	"github.com/bdougie/vidfeatures/internal/objectstore"
	"github.com/bdougie/vidfeatures/internal/paths"
	"github.com/bdougie/vidfeatures/internal/preview"
	"github.com/bdougie/vidfeatures/internal/progress"
	"github.com/bdougie/vidfeatures/internal/storage"
	"github.com/bdougie/vidfeatures/internal/tracing"
)

func extractCommand(env *config.Env, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "Extract features for a list of videos",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "feature-type",
				Usage:    "Network to extract with (efficientnet_v2_s, efficientnet_v2_l)",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "video-paths",
				Usage: "Video to process (repeatable)",
			},
			&cli.StringFlag{
				Name:  "file-with-video-paths",
				Usage: "Text file with one video path per line",
			},
			&cli.StringFlag{
				Name:  "video-dir",
				Usage: "Directory whose videos are all processed",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Frames per forward pass",
				Value: 1,
			},
			&cli.Float64Flag{
				Name:  "extraction-fps",
				Usage: "Re-encode videos to this frame rate first (unset keeps the native rate)",
			},
			&cli.StringFlag{
				Name:  "tmp-path",
				Usage: "Directory for re-encoded videos",
				Value: "./tmp",
			},
			&cli.StringFlag{
				Name:  "output-path",
				Usage: "Directory for saved features",
				Value: "./output",
			},
			&cli.StringFlag{
				Name:  "on-extraction",
				Usage: "What to do with the features (print, save_numpy, save_msgpack, save_pgvector, save_minio, publish_amqp)",
				Value: storage.ModePrint,
			},
			&cli.BoolFlag{
				Name:  "keep-tmp-files",
				Usage: "Keep re-encoded videos",
			},
			&cli.BoolFlag{
				Name:  "show-pred",
				Usage: "Print the top-5 ImageNet classes of every frame",
			},
			&cli.StringSliceFlag{
				Name:  "device",
				Usage: "Device to run on: cpu or cuda:<id> (repeat to shard videos over devices)",
				Value: []string{"cpu"},
			},
			&cli.StringFlag{
				Name:  "decoder",
				Usage: "Video decoder (opencv, ffmpeg)",
				Value: extractor.DecoderOpenCV,
			},
			&cli.StringFlag{
				Name:  "model-dir",
				Usage: "Directory holding <feature_type>/backbone.onnx and head.onnx",
				Value: "./models",
			},
			&cli.StringFlag{
				Name:  "labels",
				Usage: "Class label file for --show-pred (default <model-dir>/imagenet_classes.txt)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts := config.Options{
				FeatureType:        cmd.String("feature-type"),
				VideoPaths:         cmd.StringSlice("video-paths"),
				FileWithVideoPaths: cmd.String("file-with-video-paths"),
				VideoDir:           cmd.String("video-dir"),
				BatchSize:          cmd.Int("batch-size"),
				ExtractionFPS:      cmd.Float64("extraction-fps"),
				TmpPath:            cmd.String("tmp-path"),
				OutputPath:         cmd.String("output-path"),
				OnExtraction:       cmd.String("on-extraction"),
				KeepTmpFiles:       cmd.Bool("keep-tmp-files"),
				ShowPred:           cmd.Bool("show-pred"),
				Devices:            cmd.StringSlice("device"),
				Decoder:            cmd.String("decoder"),
				ModelDir:           cmd.String("model-dir"),
				Labels:             cmd.String("labels"),
			}

			if cmd.IsSet("extraction-fps") && opts.ExtractionFPS <= 0 {
				return cli.Exit("extraction-fps must be greater than zero", 2)
			}
			if err := opts.Validate(); err != nil {
				return cli.Exit(err.Error(), 2)
			}

			return runExtract(ctx, env, &opts, logger)
		},
	}
}

func runExtract(ctx context.Context, env *config.Env, opts *config.Options, logger *slog.Logger) error {
	runID := uuid.NewString()
	logger = logger.With("run_id", runID, "feature_type", opts.FeatureType)

	list, err := paths.Resolve(paths.Input{
		VideoPaths:         opts.VideoPaths,
		FileWithVideoPaths: opts.FileWithVideoPaths,
		VideoDir:           opts.VideoDir,
	})
	if errors.Is(err, paths.ErrNoVideos) {
		return cli.Exit(err.Error(), 2)
	}
	if err != nil {
		return err
	}

	arch, err := embeddings.Lookup(opts.FeatureType)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	opener, err := decoder.NewOpener(opts.Decoder)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	var metricsSrv *metrics.Server
	if env.MetricsPort > 0 {
		metricsSrv = metrics.NewServer(env.MetricsPort, logger)
		metricsSrv.Start(ctx)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	// Tracing (non-fatal if the collector is unavailable)
	if env.OTelEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, tracing.Options{
			Endpoint:    env.OTelEndpoint,
			FeatureType: opts.FeatureType,
			RunID:       runID,
			SampleRatio: env.OTelSampleRatio,
		})
		if err != nil {
			logger.Warn("tracing init failed, continuing without tracing", "error", err)
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	var objects *objectstore.Client
	if env.ModelBucket != "" || opts.OnExtraction == storage.ModeSaveMinio {
		objects, err = objectstore.New(objectstore.Config{
			Endpoint:  env.MinIOEndpoint,
			AccessKey: env.MinIOAccessKey,
			SecretKey: env.MinIOSecretKey,
			UseSSL:    env.MinIOUseSSL,
		})
		if err != nil {
			return err
		}
	}

	var reencoder extractor.Reencoder
	if opts.ExtractionFPS > 0 {
		if !extractor.IsFFmpegAvailable() {
			return cli.Exit("ffmpeg is required for --extraction-fps but was not found on PATH", 2)
		}
		reencoder = extractor.NewFFmpegReencoder(opts.FeatureTmpPath(), logger)
	}

	var printer *preview.Printer
	if opts.ShowPred {
		labels, err := preview.LoadLabels(opts.LabelsPath())
		if err != nil {
			logger.Warn("class labels unavailable, printing class indices", "error", err)
		}
		printer = preview.NewPrinter(os.Stdout, labels)
	}

	// Load every model before the first video is opened
	defer embeddings.ShutdownRuntime()
	models := make([]*embeddings.Model, 0, len(opts.Devices))
	defer func() {
		for _, m := range models {
			m.Close()
		}
	}()
	for _, name := range opts.Devices {
		device, err := embeddings.ParseDevice(name)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		loadOpts := embeddings.Options{
			ModelDir:    opts.ModelDir,
			Device:      device,
			LibraryPath: env.ORTLibraryPath,
			WithHead:    opts.ShowPred,
			Logger:      logger,
		}
		if env.ModelBucket != "" {
			loadOpts.Fetcher = objects.Bucket(env.ModelBucket)
		}
		model, err := embeddings.Load(ctx, opts.FeatureType, loadOpts)
		if err != nil {
			return fmt.Errorf("failed to load %s on %s: %w", opts.FeatureType, device, err)
		}
		models = append(models, model)
	}
	if metricsSrv != nil {
		metricsSrv.MarkReady()
	}

	sink, err := storage.New(ctx, storage.Options{
		Mode:             opts.OnExtraction,
		OutputPath:       opts.FeatureOutputPath(),
		FeatureType:      opts.FeatureType,
		FeatureDim:       arch.FeatureDim,
		RunID:            runID,
		DatabaseURL:      env.DatabaseURL,
		ObjectStore:      objects,
		Bucket:           env.MinIOBucket,
		RabbitMQURL:      env.RabbitMQURL,
		RabbitMQExchange: env.RabbitMQExchange,
		Stdout:           os.Stdout,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer sink.Close()

	var reporter progress.Reporter
	if len(models) > 1 {
		reporter = progress.NewLog(logger, len(list))
	} else {
		reporter = progress.NewBar(os.Stderr, len(list), opts.FeatureType)
	}

	processors := make([]*analyzer.Processor, 0, len(models))
	for _, model := range models {
		deps := analyzer.Deps{
			Backbone:  model.Backbone,
			Opener:    opener,
			Reencoder: reencoder,
			Sink:      sink,
			Progress:  reporter,
			Logger:    logger,
			Device:    model.Device.String(),
		}
		if opts.ShowPred {
			deps.Head = model.Head
			deps.Preview = printer
		}
		proc, err := analyzer.NewProcessor(analyzer.Config{
			FeatureType:   opts.FeatureType,
			BatchSize:     opts.BatchSize,
			ExtractionFPS: opts.ExtractionFPS,
			KeepTmpFiles:  opts.KeepTmpFiles,
			ShowPred:      opts.ShowPred,
		}, deps)
		if err != nil {
			return err
		}
		processors = append(processors, proc)
	}

	logger.Info("starting extraction", "videos", len(list), "devices", len(processors), "on_extraction", opts.OnExtraction)

	summary, err := analyzer.RunSharded(ctx, processors, list)
	reporter.Finish()
	if err != nil {
		return err
	}

	if len(summary.Failed) > 0 {
		logger.Warn("some videos failed", "succeeded", summary.Succeeded, "failed", len(summary.Failed))
	} else {
		logger.Info("extraction finished", "succeeded", summary.Succeeded)
	}
	return nil
}
