package engine

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/itchio/wharf/eos"
	"github.com/itchio/wharf/state"
	"github.com/packthread/packthread/pack"
	"github.com/pkg/errors"
)

// OpenExisting opens an archive with the engine, trying the extension
// hint first, then signature sniffing. Open failures surface as an
// EngineError (an archive-format error, from the caller's point of
// view). The returned InStream must be freed by the caller; the file
// itself stays the caller's to close.
func OpenExisting(lib Lib, f eos.File, password string, consumer *state.Consumer) (Archive, *InStream, error) {
	stats, err := f.Stat()
	if err != nil {
		return nil, nil, errors.Wrap(err, "stat'ing archive")
	}

	ext := strings.ToLower(filepath.Ext(stats.Name()))
	if ext != "" {
		ext = ext[1:] // strip "."
	}

	in, err := NewInStream(f, ext, stats.Size())
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating engine input stream")
	}

	consumer.Debugf("Trying by extension '%s'", ext)
	arch, err := lib.OpenArchive(in, password, false)
	if err != nil {
		_, seekErr := in.Seek(0, io.SeekStart)
		if seekErr != nil {
			return nil, nil, errors.WithStack(seekErr)
		}

		consumer.Debugf("Trying by signature")
		arch, err = lib.OpenArchive(in, password, true)
		if err != nil {
			return nil, nil, &pack.EngineError{Cause: err}
		}
	}

	return arch, in, nil
}
