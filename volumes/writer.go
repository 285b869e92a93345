// Package volumes presents one logical sequential sink, physically
// rolled across fixed-capacity volume files. Every volume but the last
// is exactly capacity bytes.
package volumes

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// A Writer splits a sequential write stream into numbered volume
// files. Volumes are opened lazily, on first write reaching them.
type Writer struct {
	basePath string
	capacity int64

	// FirstSuffixed names the first volume basePath.001 instead of
	// plain basePath.
	FirstSuffixed bool

	seq     int
	written int64
	current *os.File
	paths   []string
	closed  bool
}

// NewWriter makes a volume Writer. capacity must be positive.
func NewWriter(basePath string, capacity int64) (*Writer, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("invalid volume capacity %d", capacity)
	}

	return &Writer{
		basePath: basePath,
		capacity: capacity,
	}, nil
}

// VolumePath names volume seq (1-based): the first volume is the
// archive name itself (or name.001 when firstSuffixed), later ones
// get zero-padded numeric suffixes, 3 digits minimum.
func VolumePath(basePath string, seq int, firstSuffixed bool) string {
	if seq == 1 && !firstSuffixed {
		return basePath
	}
	return fmt.Sprintf("%s.%03d", basePath, seq)
}

func (w *Writer) roll() error {
	if w.current != nil {
		err := w.current.Close()
		w.current = nil
		if err != nil {
			return errors.WithStack(err)
		}
	}

	w.seq++
	w.written = 0

	path := VolumePath(w.basePath, w.seq, w.FirstSuffixed)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "creating volume %s", path)
	}

	w.current = f
	w.paths = append(w.paths, path)
	return nil
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write to closed volume writer")
	}

	total := 0
	for len(p) > 0 {
		if w.current == nil || w.written == w.capacity {
			err := w.roll()
			if err != nil {
				return total, err
			}
		}

		n := int64(len(p))
		if room := w.capacity - w.written; n > room {
			n = room
		}

		written, err := w.current.Write(p[:n])
		w.written += int64(written)
		total += written
		if err != nil {
			return total, errors.WithStack(err)
		}

		p = p[n:]
	}

	return total, nil
}

// Close finishes the current volume. The writer stays usable for
// Paths and Discard.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.current != nil {
		err := w.current.Close()
		w.current = nil
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Paths lists every volume file written so far, in sequence order.
func (w *Writer) Paths() []string {
	res := make([]string, len(w.paths))
	copy(res, w.paths)
	return res
}

// Discard closes and deletes all written volumes. Used on failed
// passes so no partial output survives.
func (w *Writer) Discard() error {
	err := w.Close()
	if err != nil {
		return err
	}

	for _, path := range w.paths {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return errors.WithStack(err)
		}
	}
	w.paths = nil
	return nil
}
