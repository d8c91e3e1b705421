package refine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/soypat/voxrefine"
	"github.com/soypat/voxrefine/patch"
	"gopkg.in/yaml.v3"
)

// RefinerConfig configures a patch refinement pass over a dense volume.
type RefinerConfig struct {
	// Resolution is the side of the dense volume the sparse field is scattered into.
	Resolution int `yaml:"resolution"`
	// PatchSize is the side of the cubic patches handed to the denoiser.
	PatchSize int `yaml:"patchSize"`
	// Steps is the number of patches along each axis.
	Steps int `yaml:"steps"`
	// UseHalfPrecision rounds denoiser inputs and outputs to binary16.
	UseHalfPrecision bool `yaml:"useHalfPrecision"`
	// Workers bounds concurrent denoise and meshing calls. Zero uses one per CPU.
	Workers int `yaml:"workers"`
	// ChunkSize is the number of sparse entries scattered per densify step.
	ChunkSize int `yaml:"chunkSize"`
	// IsoValue is the level the mesh is extracted at.
	IsoValue float32 `yaml:"isoValue"`
}

// DefaultRefinerConfig tiles a 512³ volume with 3³ patches of 192³,
// a stride of 160 and 32 voxels of overlap.
func DefaultRefinerConfig() RefinerConfig {
	return RefinerConfig{
		Resolution: 512,
		PatchSize:  192,
		Steps:      3,
		ChunkSize:  voxrefine.DefaultChunkSize,
	}
}

// Tiling returns the patch tiling described by c.
func (c RefinerConfig) Tiling() (patch.Tiling, error) {
	return patch.NewTiling(c.Resolution, c.PatchSize, c.Steps)
}

// Validate checks the tiling and the remaining parameters.
func (c RefinerConfig) Validate() error {
	if _, err := c.Tiling(); err != nil {
		return err
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("negative chunk size %d", c.ChunkSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("negative worker count %d", c.Workers)
	}
	return nil
}

func (c RefinerConfig) chunkSize() int {
	if c.ChunkSize == 0 {
		return voxrefine.DefaultChunkSize
	}
	return c.ChunkSize
}

// SignConfig configures the two stage sign refiner.
type SignConfig struct {
	// Resolution of the high resolution magnitude volume. Must be a multiple
	// of Coarse.Resolution.
	Resolution int `yaml:"resolution"`
	// Coarse configures the sign estimation pass.
	Coarse RefinerConfig `yaml:"coarse"`
	// Spill moves the high resolution volume to disk while the sign pass runs.
	Spill bool `yaml:"spill"`
	// SpillDir is where spilled volumes are written. Empty uses a temporary directory.
	SpillDir string `yaml:"spillDir"`
}

// DefaultSignConfig estimates signs at 512³ for a 1024³ volume. The 512³
// volume is tiled with 256³ patches at stride 128.
func DefaultSignConfig() SignConfig {
	return SignConfig{
		Resolution: 1024,
		Coarse: RefinerConfig{
			Resolution: 512,
			PatchSize:  256,
			Steps:      3,
			ChunkSize:  voxrefine.DefaultChunkSize,
		},
	}
}

// Factor returns the ratio between the high and coarse resolutions.
func (c SignConfig) Factor() int {
	if c.Coarse.Resolution <= 0 {
		return 0
	}
	return c.Resolution / c.Coarse.Resolution
}

// Validate checks the coarse pass and the resolution ratio.
func (c SignConfig) Validate() error {
	if err := c.Coarse.Validate(); err != nil {
		return fmt.Errorf("coarse pass: %w", err)
	}
	if c.Resolution <= 0 || c.Resolution%c.Coarse.Resolution != 0 {
		return fmt.Errorf("%w: resolution %d is not a multiple of coarse resolution %d",
			voxrefine.ErrInvalidTiling, c.Resolution, c.Coarse.Resolution)
	}
	return nil
}

// Config groups the refiner configurations.
type Config struct {
	Refiner RefinerConfig `yaml:"refiner"`
	Sign    SignConfig    `yaml:"sign"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Refiner: DefaultRefinerConfig(),
		Sign:    DefaultSignConfig(),
	}
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
