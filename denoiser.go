package voxrefine

// Denoiser refines a patch of signed distance values. sdf has shape
// [B,Cin,P,P,P] and feats, which may be nil, has shape [B,Cfeat,P,P,P].
// The result must have shape [B,1,P,P,P]. Implementations must not
// modify their inputs and must be safe for concurrent use.
type Denoiser interface {
	Denoise(sdf, feats *Volume) (*Volume, error)
}

// DenoiserFunc adapts a function to the Denoiser interface.
type DenoiserFunc func(sdf, feats *Volume) (*Volume, error)

// Denoise calls f(sdf, feats).
func (f DenoiserFunc) Denoise(sdf, feats *Volume) (*Volume, error) { return f(sdf, feats) }
