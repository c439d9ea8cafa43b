package main

import (
	goflag "flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"n2vgen/internal/models"
	"n2vgen/pkg/blindspot"
	"n2vgen/pkg/config"
	"n2vgen/pkg/imageio"
	"n2vgen/pkg/ndarray"
	"n2vgen/pkg/pipeline"
	"n2vgen/pkg/rng"
)

var (
	configPath     string
	trainDir       string
	validationDir  string
	numEpochs      int
	stepsPerEpoch  int
	seed           uint64
	seedIsExplicit bool
)

func checkError(err error) {
	if err != nil {
		klog.ErrorDepth(1, err)
		klog.Flush()
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath)
	checkError(err)
	if seedIsExplicit {
		cfg.Processing.Seed = seed
	}
	if cfg.Output.Verbose && !klog.V(1).Enabled() {
		_ = goflag.Set("v", "1")
	}
	return cfg
}

// loadImages loads a directory of images. With three spatial axes the directory is one slice
// stack and is returned as a single volume.
func loadImages(cfg *config.Config, dir string) []models.Image {
	images, err := imageio.LoadDir(dir, cfg.Data.ImageExtensions)
	checkError(err)
	if cfg.Patch.NumDimensions == 3 {
		volume, err := imageio.StackSlices(images)
		checkError(err)
		return []models.Image{volume}
	}
	return images
}

// buildPipeline loads the input images and prepares the tile pools. Without a validation
// directory the training images are split.
func buildPipeline(cfg *config.Config) *pipeline.Pipeline {
	p, err := pipeline.New(cfg, rng.New(cfg.Processing.Seed))
	checkError(err)

	if validationDir == "" {
		checkError(p.AddImages(loadImages(cfg, trainDir), models.Split))
	} else {
		checkError(p.AddImages(loadImages(cfg, trainDir), models.Training))
		checkError(p.AddImages(loadImages(cfg, validationDir), models.Validation))
	}

	start := time.Now()
	checkError(p.Prepare())
	klog.Infof("Prepared %d training and %d validation tiles in %s",
		p.NumTraining(), p.NumValidation(), time.Since(start).Round(time.Millisecond))
	return p
}

func init() {
	for _, cmd := range []*cobra.Command{&prepareCmd, &generateCmd} {
		cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "configuration file (defaults apply if missing)")
		cmd.Flags().StringVarP(&trainDir, "train", "t", "", "directory of training images")
		cmd.Flags().StringVar(&validationDir, "validation", "", "directory of validation images (split from training if empty)")
		cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed, overrides the configuration")
		_ = cmd.MarkFlagRequired("train")
	}
	generateCmd.Flags().IntVar(&numEpochs, "epochs", 0, "number of epochs, overrides the configuration")
	generateCmd.Flags().IntVar(&stepsPerEpoch, "steps", 0, "steps per epoch, overrides the configuration")
}

var initConfigCmd = cobra.Command{
	Use:   "init-config [config.yaml]",
	Short: "write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "config.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		checkError(config.CreateDefaultConfigFile(path))
		fmt.Printf("Default configuration written to %s\n", path)
	},
}

var prepareCmd = cobra.Command{
	Use:   "prepare",
	Short: "tile, augment and normalize the input images and write the normalization statistics",
	Args:  cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		seedIsExplicit = cmd.Flags().Changed("seed")
	},
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		p := buildPipeline(cfg)

		stats := p.Stats()
		checkError(stats.Save(cfg.Output.StatsFile))
		fmt.Printf("Training tiles:   %d\n", p.NumTraining())
		fmt.Printf("Validation tiles: %d\n", p.NumValidation())
		fmt.Printf("Mean: %g, standard deviation: %g\n", stats.Mean, stats.StdDev)
		fmt.Printf("Statistics saved to: %s\n", cfg.Output.StatsFile)
	},
}

var generateCmd = cobra.Command{
	Use:   "generate",
	Short: "generate training batches for the configured number of epochs and report their statistics",
	Args:  cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		seedIsExplicit = cmd.Flags().Changed("seed")
	},
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if numEpochs > 0 {
			cfg.Training.NumEpochs = numEpochs
		}
		if stepsPerEpoch > 0 {
			cfg.Training.StepsPerEpoch = stepsPerEpoch
		}
		if cfg.Training.NumEpochs <= 0 || cfg.Training.StepsPerEpoch <= 0 {
			checkError(errors.Errorf("numEpochs (%d) and stepsPerEpoch (%d) must be positive",
				cfg.Training.NumEpochs, cfg.Training.StepsPerEpoch))
		}
		p := buildPipeline(cfg)
		checkError(p.Stats().Save(cfg.Output.StatsFile))

		validation, err := p.ValidationBatches()
		checkError(err)
		klog.Infof("%d validation batches", len(validation))
		if err := p.SaveBatchPreview("03_validation_batch", validation[0]); err != nil {
			klog.Warningf("Failed to save validation batch preview: %v", err)
		}

		training, err := p.TrainingBatches()
		checkError(err)

		patchSize := ndarray.Product(cfg.PatchShape())
		total := cfg.Training.NumEpochs * cfg.Training.StepsPerEpoch
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Generating batches"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
		)

		var density []float64
		var generated uint64
		start := time.Now()
		for epoch := 0; epoch < cfg.Training.NumEpochs; epoch++ {
			for step := 0; step < cfg.Training.StepsPerEpoch; step++ {
				pair, err := training.Next()
				checkError(err)
				if epoch == 0 && step == 0 {
					if err := p.SaveBatchPreview("04_first_training_batch", pair); err != nil {
						klog.Warningf("Failed to save training batch preview: %v", err)
					}
				}
				channels := pair.X.Dim(len(cfg.PatchShape()) + 1)
				for _, count := range blindspot.CountBlindSpots(pair.Y) {
					density = append(density, count/float64(patchSize*channels))
				}
				generated += uint64(8 * (pair.X.Size() + pair.Y.Size()))
				_ = bar.Add(1)
			}
			training.OnEpochEnd()
			klog.V(1).Infof("Epoch %d done", epoch+1)
		}
		_ = bar.Finish()
		fmt.Println()

		mean, std := stat.MeanStdDev(density, nil)
		elapsed := time.Since(start)
		fmt.Printf("Generated %d batches (%s) in %s\n", total, humanize.Bytes(generated), elapsed.Round(time.Millisecond))
		fmt.Printf("Blind-spot density per patch: %.3f%% (std %.3f%%), configured %.3f%%\n",
			100*mean, 100*std, cfg.Patch.PercentBlindPixels)
		fmt.Printf("Statistics saved to: %s\n", cfg.Output.StatsFile)
	},
}

func main() {
	klogFlags := goflag.NewFlagSet("klog", goflag.ExitOnError)
	klog.InitFlags(klogFlags)
	goflag.CommandLine = klogFlags
	defer klog.Flush()

	rootCmd := &cobra.Command{
		Use:   "n2vgen",
		Short: "Noise2Void blind-spot training batch generator",
	}
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)
	rootCmd.AddCommand(&initConfigCmd)
	rootCmd.AddCommand(&prepareCmd)
	rootCmd.AddCommand(&generateCmd)
	checkError(rootCmd.Execute())
}
