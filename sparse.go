package voxrefine

import "fmt"

// Coord is a sparse voxel coordinate: batch element and (x, y, z) index.
type Coord struct {
	Batch int
	V3i
}

// C is shorthand for building a Coord.
func C(b, x, y, z int) Coord { return Coord{Batch: b, V3i: V3i{x, y, z}} }

// Less orders coordinates lexicographically by (batch, x, y, z).
func (c Coord) Less(o Coord) bool {
	if c.Batch != o.Batch {
		return c.Batch < o.Batch
	}
	for i := 0; i < 3; i++ {
		if c.V3i[i] != o.V3i[i] {
			return c.V3i[i] < o.V3i[i]
		}
	}
	return false
}

// SparseField holds one scalar value per active voxel. Values[i] belongs to Coords[i].
type SparseField struct {
	Coords []Coord
	Values []float32
}

// Len returns the number of active voxels.
func (sf SparseField) Len() int { return len(sf.Coords) }

// BatchSize returns the number of batch elements referenced, max(batch)+1.
func (sf SparseField) BatchSize() int { return batchSize(sf.Coords) }

// Validate checks lengths agree and no coordinate appears twice.
func (sf SparseField) Validate() error {
	if len(sf.Coords) != len(sf.Values) {
		return fmt.Errorf("%w: %d coordinates for %d values", ErrShapeMismatch, len(sf.Coords), len(sf.Values))
	}
	return checkUnique(sf.Coords)
}

// SparseFeature holds a feature vector of Channels values per active voxel.
// Feats is row major: Feats[i*Channels:(i+1)*Channels] belongs to Coords[i].
type SparseFeature struct {
	Coords   []Coord
	Channels int
	Feats    []float32
}

// Len returns the number of active voxels.
func (sf SparseFeature) Len() int { return len(sf.Coords) }

// BatchSize returns the number of batch elements referenced, max(batch)+1.
func (sf SparseFeature) BatchSize() int { return batchSize(sf.Coords) }

// Feature returns the feature vector of the i'th active voxel.
func (sf SparseFeature) Feature(i int) []float32 {
	return sf.Feats[i*sf.Channels : (i+1)*sf.Channels]
}

// Validate checks lengths agree and no coordinate appears twice.
func (sf SparseFeature) Validate() error {
	if sf.Channels <= 0 {
		return fmt.Errorf("%w: feature channels must be positive, got %d", ErrShapeMismatch, sf.Channels)
	}
	if len(sf.Feats) != len(sf.Coords)*sf.Channels {
		return fmt.Errorf("%w: %d features for %d coordinates of %d channels", ErrShapeMismatch, len(sf.Feats), len(sf.Coords), sf.Channels)
	}
	return checkUnique(sf.Coords)
}

func batchSize(coords []Coord) int {
	n := 0
	for _, c := range coords {
		n = maxInt(n, c.Batch+1)
	}
	return n
}

func checkUnique(coords []Coord) error {
	seen := make(map[Coord]int, len(coords))
	for i, c := range coords {
		if j, ok := seen[c]; ok {
			return fmt.Errorf("%w: coordinate %v repeated at %d and %d", ErrShapeMismatch, c, j, i)
		}
		seen[c] = i
	}
	return nil
}
