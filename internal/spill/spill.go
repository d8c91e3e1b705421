// Package spill moves large intermediate volumes out of memory into
// compressed, checksummed files and back.
package spill

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/soypat/voxrefine"
)

const (
	magic      = "VXSPILL\x00"
	version    = 1
	headerSize = len(magic) + 1 + 4*5 + 8
	// chunkValues is the number of float32 values converted per write or read.
	chunkValues = 1 << 14
)

var (
	ErrCorrupt  = errors.New("spill: corrupt file")
	ErrNotFound = errors.New("spill: unknown volume")
)

// Store keeps spilled volumes as files in a directory. It is safe for concurrent use.
type Store struct {
	dir     string
	ownsDir bool
	mu      sync.Mutex
	files   map[uuid.UUID]string
}

// New returns a Store writing to dir. An empty dir creates a temporary
// directory that Close removes.
func New(dir string) (*Store, error) {
	owns := false
	if dir == "" {
		d, err := os.MkdirTemp("", "voxrefine-spill-")
		if err != nil {
			return nil, err
		}
		dir, owns = d, true
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, ownsDir: owns, files: make(map[uuid.UUID]string)}, nil
}

// Dir returns the directory files are written to.
func (s *Store) Dir() string { return s.dir }

// Put streams v to a new file and returns its handle. v may be dropped by the
// caller afterwards. Only a small conversion buffer is allocated.
func (s *Store) Put(v *voxrefine.Volume) (uuid.UUID, error) {
	if err := v.Validate(); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	path := filepath.Join(s.dir, id.String()+".vxs")
	if err := writeFile(path, v); err != nil {
		os.Remove(path)
		return uuid.Nil, err
	}
	s.mu.Lock()
	s.files[id] = path
	s.mu.Unlock()
	return id, nil
}

func writeFile(path string, v *voxrefine.Volume) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	var hdr [headerSize]byte
	n := copy(hdr[:], magic)
	hdr[n] = version
	n++
	for _, d := range [5]int{v.Batch, v.Channels, v.Dims[0], v.Dims[1], v.Dims[2]} {
		binary.LittleEndian.PutUint32(hdr[n:], uint32(d))
		n += 4
	}
	// Checksum is unknown until the payload is written; header is rewritten last.
	if _, err = file.Write(hdr[:]); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	digest := xxhash.New()
	w := io.MultiWriter(enc, digest)
	buf := make([]byte, 4*chunkValues)
	for start := 0; start < len(v.Data); start += chunkValues {
		chunk := v.Data[start:min(start+chunkValues, len(v.Data))]
		for i, f := range chunk {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
		}
		if _, err = w.Write(buf[:4*len(chunk)]); err != nil {
			enc.Close()
			return err
		}
	}
	if err = enc.Close(); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(hdr[n:], digest.Sum64())
	if _, err = file.WriteAt(hdr[n:], int64(n)); err != nil {
		return err
	}
	return file.Close()
}

// Get reads back the volume stored under id, verifying its checksum.
func (s *Store) Get(id uuid.UUID) (*voxrefine.Volume, error) {
	s.mu.Lock()
	path, ok := s.files[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return decode(bufio.NewReader(file))
}

func decode(r io.Reader) (*voxrefine.Volume, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil || string(hdr[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	n := len(magic)
	if hdr[n] != version {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, hdr[n])
	}
	n++
	var dims [5]int
	for i := range dims {
		dims[i] = int(binary.LittleEndian.Uint32(hdr[n:]))
		n += 4
		if dims[i] <= 0 {
			return nil, fmt.Errorf("%w: non-positive dimension", ErrCorrupt)
		}
	}
	sum := binary.LittleEndian.Uint64(hdr[n:])
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer dec.Close()
	v := voxrefine.NewVolume(dims[0], dims[1], voxrefine.V3i{dims[2], dims[3], dims[4]})
	digest := xxhash.New()
	buf := make([]byte, 4*chunkValues)
	for start := 0; start < len(v.Data); start += chunkValues {
		chunk := v.Data[start:min(start+chunkValues, len(v.Data))]
		b := buf[:4*len(chunk)]
		if _, err := io.ReadFull(dec, b); err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrCorrupt, err)
		}
		digest.Write(b)
		for i := range chunk {
			chunk[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
	}
	if k, err := dec.Read(buf[:1]); k != 0 || err != io.EOF {
		return nil, fmt.Errorf("%w: payload longer than %d values", ErrCorrupt, v.Len())
	}
	if digest.Sum64() != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return v, nil
}

// Remove deletes the file stored under id.
func (s *Store) Remove(id uuid.UUID) error {
	s.mu.Lock()
	path, ok := s.files[id]
	delete(s.files, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return os.Remove(path)
}

// Close removes every remaining file, and the directory if New created it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, path := range s.files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
		delete(s.files, id)
	}
	if s.ownsDir {
		errs = append(errs, os.RemoveAll(s.dir))
	}
	return errors.Join(errs...)
}
