package spill

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/soypat/voxrefine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	rng := rand.New(rand.NewSource(1))
	v := voxrefine.NewVolume(2, 3, voxrefine.V3i{4, 5, 6})
	for i := range v.Data {
		v.Data[i] = rng.Float32()
	}
	id, err := s.Put(v)
	require.NoError(t, err)
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	require.NoError(t, s.Remove(id))
	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Remove(id), ErrNotFound)
	_, err = s.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChunkBoundaries(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	// Lengths just around multiples of the conversion buffer.
	for _, n := range []int{1, chunkValues - 1, chunkValues, 2*chunkValues + 3} {
		v := voxrefine.NewVolume(1, 1, voxrefine.V3i{n, 1, 1})
		for i := range v.Data {
			v.Data[i] = float32(i) - 0.5
		}
		id, err := s.Put(v)
		require.NoError(t, err)
		got, err := s.Get(id)
		require.NoError(t, err)
		require.Equal(t, v, got, "n=%d", n)

		// The header checksum covers the little endian payload.
		data, err := os.ReadFile(filepath.Join(s.Dir(), id.String()+".vxs"))
		require.NoError(t, err)
		raw := make([]byte, 4*n)
		for i, f := range v.Data {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
		}
		assert.Equal(t, xxhash.Sum64(raw), binary.LittleEndian.Uint64(data[headerSize-8:]), "n=%d", n)
	}
}

func TestCompresses(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	v := voxrefine.NewVolumeFilled(1, 1, voxrefine.Cube(64), 1)
	id, err := s.Put(v)
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(s.Dir(), id.String()+".vxs"))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(4*v.Len()/100))
}

func TestCorruption(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	v := voxrefine.NewVolumeFilled(1, 1, voxrefine.Cube(8), 0.5)
	id, err := s.Put(v)
	require.NoError(t, err)
	path := filepath.Join(s.Dir(), id.String()+".vxs")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	for name, mutate := range map[string]func([]byte) []byte{
		"magic":    func(b []byte) []byte { b[0] = 'X'; return b },
		"version":  func(b []byte) []byte { b[len(magic)] = 9; return b },
		"checksum": func(b []byte) []byte { b[headerSize-1] ^= 0xff; return b },
		"dims":     func(b []byte) []byte { b[len(magic)+1+8] = 7; return b },
		"payload":  func(b []byte) []byte { return b[:len(b)-3] },
		"short":    func(b []byte) []byte { return b[:10] },
	} {
		bad := mutate(append([]byte(nil), data...))
		require.NoError(t, os.WriteFile(path, bad, 0o644))
		_, err = s.Get(id)
		assert.ErrorIs(t, err, ErrCorrupt, name)
	}
}

func TestConcurrentPut(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	dir := s.Dir()
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			ids[i], err = s.Put(voxrefine.NewVolumeFilled(1, 1, voxrefine.Cube(8), float32(i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	for i, id := range ids {
		v, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, float32(i), v.Data[0])
	}
	require.NoError(t, s.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
