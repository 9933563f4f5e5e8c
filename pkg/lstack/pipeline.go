package lstack

import (
	"context"
	"image"

	"github.com/sirupsen/logrus"

	"github.com/luckystack/luckystack/pkg/lmath"
)

// A Job is one input set plus its resolved configuration. One
// stacking run consumes exactly one Job.
type Job struct {
	Name   string
	Store  *FrameStore
	Config Configuration

	// Optional manual mesh editing, invoked after automatic mesh
	// generation and before any per-AP phase runs. Interactive callers
	// apply user add/move/remove operations here; batch callers leave
	// it nil.
	EditMesh func(*Mesh, *MeanFrame) error

	// Optional per-phase progress reporting.
	Progress ProgressFunc
}

// A Result is everything a job produces: the composite, the final
// mesh for inspection, and the diagnostics of everything that was
// excluded along the way.
type Result struct {
	Image    *image.RGBA64
	Channels []lmath.FloatGrid

	Ranking     *Ranking
	RefPatch    *ReferencePatch
	Alignment   *GlobalAlignment
	MeanFrame   *MeanFrame
	Mesh        *Mesh
	Diagnostics *Diagnostics
}

// Run executes the full stacking pipeline for one job. Phases run
// strictly in order; within a phase, independent frames or APs fan
// out over the worker pool. The context cancels cooperatively at
// frame/AP granularity - a canceled run returns promptly with
// ctx.Err() and no partial result.
func Run(ctx context.Context, job *Job) (*Result, error) {
	cfg := &job.Config
	fs := job.Store
	diag := NewDiagnostics()
	progress := job.Progress

	if err := cfg.ValidateForFrameCount(len(fs.ValidIndices())); err != nil {
		return nil, err
	}

	log := logrus.WithField("job", job.Name)
	log.WithFields(logrus.Fields{
		"frames": fs.Count(),
		"color":  fs.Color(),
		"mode":   cfg.Stacking.Mode,
	}).Info("stacking started")

	// Phase 1: global quality ranking.
	ranking, err := RankFrames(ctx, fs, cfg, progress)
	if err != nil {
		return nil, err
	}
	for _, i := range fs.ValidIndices() {
		diag.AddScore(ranking.Scores[i])
	}

	// Phase 2: registration template.
	refPatch, err := SelectReferencePatch(ctx, fs, ranking, cfg, diag)
	if err != nil {
		return nil, err
	}

	// Phase 3: whole-frame registration.
	ga, err := AlignFrames(ctx, fs, ranking, refPatch, cfg, diag, progress)
	if err != nil {
		return nil, err
	}

	// Phase 4: reference composite.
	mf, err := BuildMeanFrame(ctx, fs, ranking, ga, cfg, progress)
	if err != nil {
		return nil, err
	}

	// Phase 5: alignment point mesh, plus manual edits.
	mesh, err := GenerateMesh(ctx, mf, cfg, diag, progress)
	if err != nil {
		return nil, err
	}
	if job.EditMesh != nil {
		if err := job.EditMesh(mesh, mf); err != nil {
			return nil, err
		}
		diag.APKept = len(mesh.Kept())
	}

	// Phase 6: per-AP local ranking and shift estimation.
	kept := mesh.Kept()
	err = forEachUnit(ctx, len(kept), func(k int) {
		defer progress.step(PhaseLocal, k, 2*len(kept))
		RankLocal(fs, mf, ga, kept[k], cfg, diag)
		EstimateShifts(fs, mf, ga, kept[k], cfg, diag)
	})
	if err != nil {
		return nil, err
	}

	kept = mesh.Kept()
	diag.APKept = len(kept)
	if len(kept) == 0 {
		return nil, fatal(PhaseLocal, ErrNoAlignmentPoints)
	}

	// Phase 7: de-warp fields and patch stacking. Fields are per
	// frame; build each once and share it across the APs that selected
	// that frame.
	frameSet := map[int]bool{}
	for _, ap := range kept {
		for _, i := range ap.Selected {
			frameSet[i] = true
		}
	}
	frames := make([]int, 0, len(frameSet))
	for i := range frameSet {
		frames = append(frames, i)
	}
	fields := make(map[int]*ShiftField, len(frames))
	for _, i := range frames {
		fields[i] = BuildShiftField(i, mesh, ga)
	}

	err = forEachUnit(ctx, len(kept), func(k int) {
		defer progress.step(PhaseLocal, len(kept)+k, 2*len(kept))
		StackPatch(fs, mf, kept[k], fields, cfg)
	})
	if err != nil {
		return nil, err
	}

	// Phase 8: global blend.
	channels, err := Blend(mf, mesh, cfg, diag, progress)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Image:       RenderComposite(channels, fs.Color()),
		Channels:    channels,
		Ranking:     ranking,
		RefPatch:    refPatch,
		Alignment:   ga,
		MeanFrame:   mf,
		Mesh:        mesh,
		Diagnostics: diag,
	}

	log.WithFields(logrus.Fields{
		"aps":    len(kept),
		"output": res.Image.Bounds(),
		"diag":   diag.Summary(),
	}).Info("stacking finished")

	return res, nil
}
