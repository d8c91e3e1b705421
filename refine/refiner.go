// Package refine runs sparse signed distance fields through patch based
// denoising at high resolution and extracts meshes from the result.
package refine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/soypat/voxrefine"
	"github.com/soypat/voxrefine/denoise"
	"github.com/soypat/voxrefine/patch"
	"github.com/soypat/voxrefine/render"
)

// Refiner densifies a sparse field, denoises it patch by patch, stitches the
// patches back together and meshes the result.
type Refiner struct {
	cfg    RefinerConfig
	tiling patch.Tiling
	d      voxrefine.Denoiser
	log    *log.Logger
}

// NewRefiner validates cfg and returns a Refiner calling d on every patch.
// logger may be nil.
func NewRefiner(cfg RefinerConfig, d voxrefine.Denoiser, logger *log.Logger) (*Refiner, error) {
	if d == nil {
		return nil, voxrefine.ErrMsg("nil denoiser")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t, err := cfg.Tiling()
	if err != nil {
		return nil, err
	}
	if cfg.UseHalfPrecision {
		d = denoise.HalfPrecision(d)
	}
	return &Refiner{cfg: cfg, tiling: t, d: d, log: logger}, nil
}

// Config returns the configuration r was built with.
func (r *Refiner) Config() RefinerConfig { return r.cfg }

// Tiling returns the patch tiling used by r.
func (r *Refiner) Tiling() patch.Tiling { return r.tiling }

// RefineVolume returns the stitched [B,1,res³] volume for sdf. feats may be nil.
func (r *Refiner) RefineVolume(ctx context.Context, sdf voxrefine.SparseField, feats *voxrefine.SparseFeature) (*voxrefine.Volume, error) {
	start := time.Now()
	dense, err := voxrefine.DensifyChunked(sdf, r.cfg.Resolution, 1, r.cfg.chunkSize())
	if err != nil {
		return nil, fmt.Errorf("densify sdf: %w", err)
	}
	r.logf("densify res=%d entries=%d batch=%d", r.cfg.Resolution, sdf.Len(), dense.Batch)
	var denseFeats *voxrefine.Volume
	if feats != nil {
		denseFeats, err = voxrefine.DensifyFeatures(*feats, r.cfg.Resolution, r.cfg.chunkSize())
		if err != nil {
			return nil, fmt.Errorf("densify features: %w", err)
		}
		r.logf("densify features channels=%d", denseFeats.Channels)
	}
	return r.refineDense(ctx, dense, denseFeats, start)
}

func (r *Refiner) refineDense(ctx context.Context, dense, feats *voxrefine.Volume, start time.Time) (*voxrefine.Volume, error) {
	patches, err := r.tiling.Denoise(ctx, dense, feats, r.d, r.cfg.Workers)
	if err != nil {
		return nil, err
	}
	r.logf("denoised %d patches of %d³ (stride %d) in %s", len(patches), r.tiling.Size, r.tiling.Stride, time.Since(start))
	out, err := r.tiling.Stitch(patches)
	if err != nil {
		return nil, err
	}
	r.logf("stitched %d³ volume", out.Res())
	return out, nil
}

// Run refines sdf and extracts one mesh per batch element at the configured iso value.
func (r *Refiner) Run(ctx context.Context, sdf voxrefine.SparseField, feats *voxrefine.SparseFeature) ([]render.Mesh, error) {
	v, err := r.RefineVolume(ctx, sdf, feats)
	if err != nil {
		return nil, err
	}
	meshes, err := render.ExtractMeshes(ctx, v, r.cfg.IsoValue, r.cfg.Workers)
	if err != nil {
		return nil, err
	}
	r.logf("extracted %d meshes at level %g", len(meshes), r.cfg.IsoValue)
	return meshes, nil
}

func (r *Refiner) logf(format string, args ...any) {
	if r.log != nil {
		r.log.Printf("[refine] "+format, args...)
	}
}
