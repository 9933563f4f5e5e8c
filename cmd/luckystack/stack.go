package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/luckystack/luckystack/pkg/lload"
	"github.com/luckystack/luckystack/pkg/lstack"
)

func newStackCmd() *cobra.Command {
	var (
		fConfig          string
		fOutput          string
		fHDROutput       string
		fOverlayOutput   string
		fMode            string
		fRankMethod      string
		fFrameCount      int
		fFramePercent    float64
		fDrizzle         float64
		fQualityWeighted bool
		fExclude         []int
		fNoProgress      bool
	)

	cmd := &cobra.Command{
		Use:   "stack <frames...>",
		Short: "Stack a burst of frames into one sharp image",
		Long: `Stack loads the given frames (files or directories of TIFF, PNG or
JPEG, put into capture order via EXIF timestamps when available), runs
the full lucky-imaging pipeline, and writes the composite.

Examples:
  # Surface mode with defaults
  luckystack stack -o moon.png captures/moon/

  # Planet mode, best 10% of frames, 2x drizzle
  luckystack stack --mode planet --frame-percent 10 --drizzle 2 -o jupiter.png captures/jup/

  # Job file plus overrides
  luckystack stack -c job.yaml --rank-method laplace captures/mars/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := lstack.NewConfiguration()
			if fConfig != "" {
				var err error
				cfg, err = lstack.LoadConfiguration(fConfig)
				if err != nil {
					return err
				}
				logrus.WithField("file", fConfig).Info("loaded base configuration")
			}

			// Command line args override the job file, where given.
			if fOutput != "" {
				cfg.Output.Filename = fOutput
			}
			if fHDROutput != "" {
				cfg.Output.HDRFilename = fHDROutput
			}
			if fOverlayOutput != "" {
				cfg.Output.OverlayFilename = fOverlayOutput
			}
			if fMode != "" {
				cfg.Stacking.Mode = fMode
			}
			if fRankMethod != "" {
				cfg.Stacking.RankMethod = fRankMethod
			}
			if fFrameCount > 0 {
				cfg.Stacking.FrameCount = fFrameCount
				cfg.Stacking.FramePercent = 0
			}
			if fFramePercent > 0 {
				cfg.Stacking.FramePercent = fFramePercent
				cfg.Stacking.FrameCount = 0
			}
			if fDrizzle > 0 {
				cfg.Stacking.Drizzle = fDrizzle
			}
			if fQualityWeighted {
				cfg.Stacking.QualityWeighted = true
			}
			if len(fExclude) > 0 {
				cfg.Exclude = append(cfg.Exclude, fExclude...)
			}
			if err := cfg.FinalizeConfiguration(); err != nil {
				return err
			}

			sources, err := lload.Load(args...)
			if err != nil {
				return err
			}
			logrus.WithField("frames", len(sources)).Info("frames loaded")

			store, err := lstack.NewFrameStore(lload.Images(sources),
				cfg.Stacking.BufferLevel, cfg.Stacking.NoiseLevel, cfg.Exclude)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			job := &lstack.Job{
				Name:   cfg.Output.Filename,
				Store:  store,
				Config: cfg,
			}
			if !fNoProgress {
				job.Progress = newBarProgress()
			}

			res, err := lstack.Run(ctx, job)
			if err != nil {
				return err
			}

			if err := lload.WritePNG(res.Image, cfg.Output.Filename); err != nil {
				return err
			}
			logrus.WithField("file", cfg.Output.Filename).Info("composite written")

			if cfg.Output.HDRFilename != "" {
				if err := lload.WriteHDR(res.Channels, cfg.Output.HDRFilename); err != nil {
					return err
				}
				logrus.WithField("file", cfg.Output.HDRFilename).Info("HDR composite written")
			}

			if cfg.Output.OverlayFilename != "" {
				overlay := lstack.RenderOverlay(res.MeanFrame, res.Mesh, res.RefPatch)
				if err := lload.WritePNG(overlay, cfg.Output.OverlayFilename); err != nil {
					return err
				}
				logrus.WithField("file", cfg.Output.OverlayFilename).Info("mesh overlay written")
			}

			fmt.Println(res.Diagnostics.Summary())
			return nil
		},
	}

	cmd.Flags().StringVarP(&fConfig, "config", "c", "", "job configuration YAML")
	cmd.Flags().StringVarP(&fOutput, "output", "o", "", "output PNG filename")
	cmd.Flags().StringVar(&fHDROutput, "hdr", "", "also write a Radiance .hdr composite")
	cmd.Flags().StringVar(&fOverlayOutput, "overlay", "", "also write an AP mesh overlay PNG")
	cmd.Flags().StringVar(&fMode, "mode", "", "stabilization mode (surface|planet)")
	cmd.Flags().StringVar(&fRankMethod, "rank-method", "", "frame ranking method (xy-gradient|laplace|sobel)")
	cmd.Flags().IntVar(&fFrameCount, "frame-count", 0, "stack the best N frames per alignment point")
	cmd.Flags().Float64Var(&fFramePercent, "frame-percent", 0, "stack the best N percent of frames per alignment point")
	cmd.Flags().Float64Var(&fDrizzle, "drizzle", 0, "output up-sampling factor (1|1.5|2|3)")
	cmd.Flags().BoolVar(&fQualityWeighted, "quality-weighted", false, "weight patch averaging by local rank score")
	cmd.Flags().IntSliceVar(&fExclude, "exclude", nil, "frame indices to exclude")
	cmd.Flags().BoolVar(&fNoProgress, "no-progress", false, "disable the progress bar")

	return cmd
}

// newBarProgress renders one progress bar per pipeline phase. Phase
// callbacks arrive from many workers at once; the bar swap and update
// are serialized here.
func newBarProgress() lstack.ProgressFunc {
	var mu sync.Mutex
	var cur lstack.Phase
	var bar *progressbar.ProgressBar

	return func(phase lstack.Phase, done, total int) {
		mu.Lock()
		defer mu.Unlock()

		if phase != cur || bar == nil {
			if bar != nil {
				bar.Finish()
			}
			cur = phase
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(string(phase)),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
			)
		}
		bar.Set(done)
	}
}
