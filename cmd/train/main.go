package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gender-classifier/internal/common"
	"gender-classifier/internal/ml"
	"gender-classifier/internal/trainer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	defaults := trainer.DefaultConfig()
	var (
		trainDir     = flag.String("train", "data/train", "Training directory with female/ and male/ sub-directories")
		testDir      = flag.String("test", "", "Optional test directory with the same layout")
		modelPath    = flag.String("model", common.DefaultModelPath, "Output model file")
		reportPath   = flag.String("report", "", "Optional JSON report file")
		epochs       = flag.Int("epochs", defaults.Epochs, "Number of epochs")
		batchSize    = flag.Int("batch-size", defaults.BatchSize, "Mini-batch size")
		valSplit     = flag.Float64("val-split", defaults.ValidationSplit, "Fraction of each class held out for validation")
		noAugment    = flag.Bool("no-augment", false, "Disable horizontal flip augmentation")
		seed         = flag.Int64("seed", defaults.Seed, "Random seed for split and shuffling")
		learningRate = flag.Float64("lr", 0.001, "Adam learning rate for the training run")
		imageSize    = flag.Int("image-size", common.DefaultImageSize, "Square input size without a backbone")
		poolGrid     = flag.Int("pool-grid", common.DefaultPoolGrid, "Pooling grid without a backbone")
		backbonePath = flag.String("backbone", "", "Optional ONNX feature extractor")
		backboneMeta = flag.String("backbone-metadata", "", "Backbone metadata file (default: <backbone>_metadata.json)")
		onnxLib      = flag.String("onnx-lib", "", "Path to the onnxruntime shared library")
		resume       = flag.Bool("resume", false, "Continue training the existing model file")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ds, err := trainer.LoadDir(*trainDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load training data")
	}

	backbone := loadBackbone(*backbonePath, *backboneMeta, *onnxLib)
	model, err := buildModel(*modelPath, *resume, backbone, *imageSize, *poolGrid, *learningRate)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build model")
	}
	defer model.Close()

	cfg := trainer.Config{
		Epochs:          *epochs,
		BatchSize:       *batchSize,
		ValidationSplit: *valSplit,
		Augment:         !*noAugment,
		Seed:            *seed,
	}
	engine, err := trainer.NewEngine(model, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid training configuration")
	}

	report := &trainer.Report{
		StartTime: time.Now(),
		TrainDir:  *trainDir,
		TestDir:   *testDir,
		ModelPath: *modelPath,
		Counts:    ds.Counts(),
		Config:    cfg,
	}

	report.Epochs, err = engine.Fit(ctx, ds)
	if err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}

	if *testDir != "" {
		testSet, err := trainer.LoadDir(*testDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load test data")
		}
		report.Test, err = engine.Evaluate(ctx, testSet.Samples)
		if err != nil {
			log.Fatal().Err(err).Msg("Evaluation failed")
		}
	}

	// online learning continues from the serving learning rate
	model.SetLearningRate(common.DefaultLearningRate)
	if err := model.Save(*modelPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to save model")
	}
	report.EndTime = time.Now()

	report.WriteSummary(os.Stdout)
	if *reportPath != "" {
		if err := report.SaveJSON(*reportPath); err != nil {
			log.Error().Err(err).Msg("Failed to write report")
		}
	}

	log.Info().Str("model", *modelPath).Msg("Training completed successfully")
}

func loadBackbone(path, metaPath, lib string) ml.FeatureExtractor {
	if path == "" {
		return nil
	}
	if metaPath == "" {
		metaPath = ml.BackboneMetadataPath(path)
	}
	md, err := ml.LoadBackboneMetadata(metaPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", metaPath).Msg("Failed to load backbone metadata")
	}
	ext, err := ml.NewONNXExtractor(path, md, lib)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to load backbone")
	}
	return ext
}

func buildModel(path string, resume bool, backbone ml.FeatureExtractor, size, grid int, lr float64) (*ml.Classifier, error) {
	if resume {
		c, created, err := ml.OpenClassifier(path, ml.OpenOptions{
			LoadOptions:     ml.LoadOptions{Backbone: backbone, LearningRate: lr},
			CreateIfMissing: true,
			ImageSize:       size,
			PoolGrid:        grid,
		})
		if err != nil {
			return nil, err
		}
		if created {
			log.Warn().Str("path", path).Msg("No model to resume, starting from scratch")
		}
		return c, nil
	}

	if backbone == nil {
		return ml.NewClassifier(ml.NewPoolExtractor(grid), size, size, ml.DefaultAdam(lr)), nil
	}
	sized, ok := backbone.(interface{ InputSize() (int, int) })
	if !ok {
		return nil, fmt.Errorf("backbone does not report an input size")
	}
	w, h := sized.InputSize()
	return ml.NewClassifier(backbone, w, h, ml.DefaultAdam(lr)), nil
}
