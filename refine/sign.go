package refine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"github.com/soypat/voxrefine"
	"github.com/soypat/voxrefine/internal/spill"
	"github.com/soypat/voxrefine/render"
)

// SignRefiner recovers a signed high resolution field from sparse samples
// whose sign is unreliable away from the surface. Signs are estimated by a
// patch pass at a coarse resolution and applied to the magnitudes of the high
// resolution field; the sparse samples themselves are then written back.
type SignRefiner struct {
	cfg    SignConfig
	coarse *Refiner
	log    *log.Logger
}

// NewSignRefiner validates cfg and returns a SignRefiner whose coarse pass
// calls d. d outputs sign logits: positive outside, negative inside.
func NewSignRefiner(cfg SignConfig, d voxrefine.Denoiser, logger *log.Logger) (*SignRefiner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	coarse, err := NewRefiner(cfg.Coarse, d, logger)
	if err != nil {
		return nil, err
	}
	return &SignRefiner{cfg: cfg, coarse: coarse, log: logger}, nil
}

// RunVolume returns the combined [B,1,res³] volume before meshing.
func (s *SignRefiner) RunVolume(ctx context.Context, sdf voxrefine.SparseField) (*voxrefine.Volume, error) {
	start := time.Now()
	high, err := voxrefine.DensifyChunked(sdf, s.cfg.Resolution, 1, s.cfg.Coarse.chunkSize())
	if err != nil {
		return nil, fmt.Errorf("densify high resolution sdf: %w", err)
	}
	s.logf("densify res=%d entries=%d batch=%d", s.cfg.Resolution, sdf.Len(), high.Batch)

	var (
		store *spill.Store
		id    uuid.UUID
	)
	if s.cfg.Spill {
		store, err = spill.New(s.cfg.SpillDir)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if id, err = store.Put(high); err != nil {
			return nil, err
		}
		high = nil
		s.logf("spilled high resolution volume to %s", store.Dir())
	}
	logits, err := s.signLogits(ctx, sdf, start)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if high, err = store.Get(id); err != nil {
			return nil, err
		}
	}
	return s.combine(high, logits, sdf)
}

// signLogits runs the coarse pass on the downsampled field.
func (s *SignRefiner) signLogits(ctx context.Context, sdf voxrefine.SparseField, start time.Time) (*voxrefine.Volume, error) {
	low, err := voxrefine.Downsample(sdf, s.cfg.Factor())
	if err != nil {
		return nil, err
	}
	s.logf("downsample factor=%d entries=%d", s.cfg.Factor(), low.Len())
	dense, err := voxrefine.DensifyChunked(low, s.cfg.Coarse.Resolution, 1, s.cfg.Coarse.chunkSize())
	if err != nil {
		return nil, fmt.Errorf("densify coarse sdf: %w", err)
	}
	return s.coarse.refineDense(ctx, dense, nil, start)
}

func (s *SignRefiner) combine(high, logits *voxrefine.Volume, sdf voxrefine.SparseField) (*voxrefine.Volume, error) {
	sign, err := voxrefine.UpsampleNearest(IsoSign(logits), s.cfg.Factor())
	if err != nil {
		return nil, err
	}
	combined, err := ApplySign(high, sign)
	if err != nil {
		return nil, err
	}
	if err := voxrefine.Splice(combined, sdf); err != nil {
		return nil, err
	}
	s.logf("combined signs, spliced %d source values", sdf.Len())
	return combined, nil
}

// Run computes the combined volume and extracts one mesh per batch element.
func (s *SignRefiner) Run(ctx context.Context, sdf voxrefine.SparseField) ([]render.Mesh, error) {
	v, err := s.RunVolume(ctx, sdf)
	if err != nil {
		return nil, err
	}
	meshes, err := render.ExtractMeshes(ctx, v, s.cfg.Coarse.IsoValue, s.cfg.Coarse.Workers)
	if err != nil {
		return nil, err
	}
	s.logf("extracted %d meshes at level %g", len(meshes), s.cfg.Coarse.IsoValue)
	return meshes, nil
}

// IsoSign maps logits to +1 where sigmoid(logit) >= 0.5 and -1 elsewhere.
// A logit of exactly zero maps to +1.
func IsoSign(logits *voxrefine.Volume) *voxrefine.Volume {
	out := logits.Clone()
	for i, l := range out.Data {
		if voxrefine.Sigmoid(l) >= 0.5 {
			out.Data[i] = 1
		} else {
			out.Data[i] = -1
		}
	}
	return out
}

// ApplySign returns |magnitude|*sign element-wise.
func ApplySign(magnitude, sign *voxrefine.Volume) (*voxrefine.Volume, error) {
	if err := magnitude.Validate(); err != nil {
		return nil, err
	}
	if err := sign.Validate(); err != nil {
		return nil, err
	}
	if !magnitude.SameShape(sign) {
		return nil, fmt.Errorf("%w: magnitude [%d,%d,%v] and sign [%d,%d,%v]", voxrefine.ErrShapeMismatch,
			magnitude.Batch, magnitude.Channels, magnitude.Dims, sign.Batch, sign.Channels, sign.Dims)
	}
	out := magnitude.Clone()
	for i, m := range out.Data {
		out.Data[i] = math32.Abs(m) * sign.Data[i]
	}
	return out, nil
}

func (s *SignRefiner) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf("[sign] "+format, args...)
	}
}
