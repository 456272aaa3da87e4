// Command vitae trains and samples VITAE models.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae"
	"github.com/unixpickle/vitae/data"
	"github.com/unixpickle/vitae/nn"
	"github.com/unixpickle/vitae/tblog"
	"github.com/unixpickle/vitae/train"
	"github.com/unixpickle/vitae/vis"
)

const checkpointName = "model.bin"

func main() {
	if err := NewCLI().Execute(); err != nil {
		log.Fatal(err)
	}
}

// NewCLI creates the root command.
func NewCLI() *cobra.Command {
	root := &cobra.Command{
		Use:           "vitae",
		Short:         "Train and sample VITAE models",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.AddCommand(newTrainCmd(), newSampleCmd(), newSummaryCmd())
	return root
}

func newTrainCmd() *cobra.Command {
	cfg := DefaultRunConfig()
	var configPath string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Resolve(cmd.Flags(), configPath); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runTrain(ctx, cfg)
		},
	}
	cfg.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&configPath, "config", "", "YAML file with default settings")
	return cmd
}

func newSampleCmd() *cobra.Command {
	var modelPath, outPath string
	var gridSize, scale int
	var seed int64
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write a grid of samples from a trained model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := vitae.Load(modelPath)
			if err != nil {
				return err
			}
			m.Rand = rand.New(rand.NewSource(seed))
			samples, err := m.Sample(gridSize * gridSize)
			if err != nil {
				return err
			}
			grid := vis.Grid(m.Config.InputShape, nn.Float64s(samples), gridSize,
				vis.DefaultPadding)
			return vis.WritePNG(outPath, vis.Upscale(grid, scale))
		},
	}
	cmd.Flags().StringVar(&modelPath, "model-path", checkpointName, "checkpoint to load")
	cmd.Flags().StringVar(&outPath, "out", "samples.png", "output image")
	cmd.Flags().IntVar(&gridSize, "n", 10, "grid rows and columns")
	cmd.Flags().IntVar(&scale, "scale", 2, "upscaling factor")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	cfg := DefaultRunConfig()
	var modelPath, configPath string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the layers and parameter counts of a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var m *vitae.Model
			var err error
			if modelPath != "" {
				m, err = vitae.Load(modelPath)
			} else {
				if err := cfg.Resolve(cmd.Flags(), configPath); err != nil {
					return err
				}
				m, err = newModel(cfg)
			}
			if err != nil {
				return err
			}
			WriteSummary(cmd.OutOrStdout(), m)
			return nil
		},
	}
	cfg.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&configPath, "config", "", "YAML file with default settings")
	cmd.Flags().StringVar(&modelPath, "model-path", "", "checkpoint to summarize")
	return cmd
}

func newModel(cfg *RunConfig) (*vitae.Model, error) {
	modelCfg, err := cfg.ModelConfig()
	if err != nil {
		return nil, err
	}
	return vitae.New(creator(), modelCfg)
}

func creator() anyvec.Creator {
	return anyvec32.CurrentCreator()
}

func runTrain(ctx context.Context, cfg *RunConfig) error {
	rng := rand.New(rand.NewSource(cfg.Seed))

	var m *vitae.Model
	var err error
	state := &TrainState{}
	if cfg.Resume != "" {
		log.Println("Loading model...")
		m, err = vitae.Load(cfg.Resume)
		if err == nil {
			state, err = LoadTrainState(cfg.Resume)
		}
	} else {
		log.Println("Creating model...")
		m, err = newModel(cfg)
	}
	if err != nil {
		return err
	}
	m.Rand = rng

	log.Println("Loading data...")
	trainSet, testSet, err := loadData(cfg)
	if err != nil {
		return err
	}
	log.Printf("Loaded %d training and %d testing images", trainSet.Len(), testSet.Len())

	logger, err := tblog.Open(cfg.LogDir)
	if err != nil {
		return err
	}
	defer logger.Close()
	runDir := filepath.Join(cfg.LogDir, logger.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}
	if err := cfg.Save(filepath.Join(runDir, "hparams.yaml")); err != nil {
		return err
	}
	WriteSummary(os.Stdout, m)

	optimizer, err := train.ParseOptimizer(cfg.Optimizer)
	if err != nil {
		return err
	}
	trainer := &train.Trainer{
		Model:              m,
		Optimizer:          optimizer.NewTransformer(),
		LearningRate:       cfg.LearningRate,
		BatchSize:          cfg.BatchSize,
		Warmup:             cfg.Warmup,
		Logger:             logger,
		CallbackEvery:      cfg.CallbackEvery,
		CalibrationBatches: cfg.CalibrationBatches,
		LogInterval:        10,
		Rand:               rng,
		Epoch:              state.Epoch,
		Iteration:          state.Iteration,
	}
	if state.Epoch > 0 {
		log.Printf("Resuming after epoch %d", state.Epoch)
	}

	log.Println("Press ctrl+c once to stop...")
	fitErr := trainer.Fit(ctx, trainSet, testSet, cfg.Epochs)
	if fitErr != nil && !errors.Is(fitErr, context.Canceled) {
		return fitErr
	}

	log.Println("Saving model...")
	if err := m.Save(filepath.Join(runDir, checkpointName)); err != nil {
		return err
	}
	state = &TrainState{Epoch: trainer.Epoch, Iteration: trainer.Iteration}
	if err := state.Save(runDir); err != nil {
		return err
	}
	log.Println("Exporting embeddings...")
	if err := ExportEmbeddings(runDir, m, testSet, cfg.BatchSize); err != nil {
		return essentials.AddCtx("export embeddings", err)
	}
	return nil
}

func loadData(cfg *RunConfig) (trainSet, testSet *data.Dataset, err error) {
	classes, err := cfg.ClassList()
	if err != nil {
		return nil, nil, err
	}
	modelCfg, err := cfg.ModelConfig()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Dataset {
	case "mnist":
		if modelCfg.InputShape != data.MNISTShape {
			return nil, nil, fmt.Errorf("mnist requires shape %v", data.MNISTShape)
		}
		trainSet, testSet = data.MNIST(classes)
	case "dir":
		trainSet, testSet, err = data.LoadImageDir(cfg.DataDir, modelCfg.InputShape,
			cfg.TrainRatio)
		if err != nil {
			return nil, nil, err
		}
		trainSet, testSet = trainSet.Filter(classes), testSet.Filter(classes)
	default:
		return nil, nil, fmt.Errorf("unknown dataset: %s", cfg.Dataset)
	}
	if trainSet.Len() == 0 {
		return nil, nil, errors.New("no training images")
	}
	return trainSet, testSet, nil
}
