// Package unpress drives the decompression direction: it satisfies
// the engine's extract callback, routes per-item cancel/skip decisions
// from caller handlers, writes item bytes to a savior sink or a
// caller-supplied stream, and guarantees cleanup (and exactly one
// PassFinished) on every exit path.
package unpress

import (
	"io"
	"os"
	"path/filepath"

	"github.com/itchio/savior"
	"github.com/itchio/wharf/eos"
	"github.com/itchio/wharf/state"
	"github.com/packthread/packthread/engine"
	"github.com/packthread/packthread/events"
	"github.com/packthread/packthread/pack"
	"github.com/pkg/errors"
)

// Params configures one extract pass.
type Params struct {
	// File is the open archive. When nil, Path is opened instead.
	File eos.File
	Path string

	Password string

	// OutputPath is the destination directory for archive-wide
	// extraction. Ignored when Sink or Writer is set.
	OutputPath string

	// Sink overrides the default folder sink.
	Sink savior.Sink

	// Indices restricts the pass to these items; nil means all.
	Indices []int64

	// Writer receives the bytes of a single-item extraction. Exactly
	// one index must be selected.
	Writer io.Writer

	// LeaveOpen keeps Writer open after the pass: the caller retains
	// ownership unless it explicitly grants it.
	LeaveOpen bool

	// FastMode suppresses all progress reporting for this pass.
	FastMode bool

	Consumer   *state.Consumer
	Dispatcher *events.Dispatcher

	// Lib overrides the pooled engine library. Mostly for tests.
	Lib engine.Lib
}

// Result is what an extract pass produced.
type Result struct {
	Entries   []*pack.Entry
	Cancelled bool
}

func (params *Params) validate() error {
	if params.File == nil && params.Path == "" {
		return pack.Inputf("no archive given")
	}

	if params.Writer != nil {
		if len(params.Indices) != 1 {
			return pack.Inputf("stream extraction takes exactly one index, got %d", len(params.Indices))
		}
		return nil
	}

	if params.Sink == nil && params.OutputPath == "" {
		return pack.Streamf("no destination: give OutputPath, a Sink, or a Writer")
	}

	return nil
}

// Extract runs one extract pass, synchronously. Once the archive is
// open, PassFinished fires exactly once, after cleanup, whatever the
// outcome, cancellation included.
func Extract(params Params) (*Result, error) {
	consumer := params.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}
	dispatcher := params.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(events.Sync)
	}

	err := params.validate()
	if err != nil {
		return nil, err
	}

	lib := params.Lib
	if lib == nil {
		pooled, release, err := engine.Acquire()
		if err != nil {
			return nil, err
		}
		defer release()
		lib = pooled
	}

	file := params.File
	if file == nil {
		f, err := eos.Open(params.Path)
		if err != nil {
			return nil, pack.Inputf("cannot open archive %s: %s", params.Path, err.Error())
		}
		// core-owned, core-closed
		defer f.Close()
		file = f
	}

	arch, in, err := engine.OpenExisting(lib, file, params.Password, consumer)
	if err != nil {
		return nil, err
	}
	defer in.Free()
	defer arch.Close()

	itemCount, err := arch.GetItemCount()
	if err != nil {
		return nil, &pack.EngineError{Cause: err}
	}

	indices := params.Indices
	if indices == nil {
		for i := int64(0); i < itemCount; i++ {
			indices = append(indices, i)
		}
	}
	for _, idx := range indices {
		if idx < 0 || idx >= itemCount {
			return nil, pack.Inputf("index %d out of range, archive has %d items", idx, itemCount)
		}
	}

	sink := params.Sink
	if sink == nil && params.Writer == nil {
		sink = &savior.FolderSink{
			Directory: params.OutputPath,
			Consumer:  consumer,
		}
	}

	cb := &extractCallback{
		params:     &params,
		sink:       sink,
		consumer:   consumer,
		dispatcher: dispatcher,
		result:     &Result{},
	}

	return runPass(arch, indices, cb, consumer, dispatcher)
}

// Start runs the pass on a background goroutine. The Result is only
// observable through the PassFinished handler and onDone.
func Start(params Params, onDone func(error)) *pack.Operation {
	op := pack.NewOperation(onDone)
	go func() {
		_, err := Extract(params)
		op.Finish(err)
	}()
	return op
}

func runPass(arch engine.Archive, indices []int64, cb *extractCallback, consumer *state.Consumer, dispatcher *events.Dispatcher) (res *Result, err error) {
	defer func() {
		cb.finish()

		err = pack.CombineErrors(append([]error{err}, cb.itemErrs...)...)
		if errors.Cause(err) == pack.ErrCancelled {
			cb.result.Cancelled = true
			err = nil
		}

		res = cb.result
		dispatcher.Emit(&events.PassFinished{Err: err, Cancelled: res.Cancelled})
		dispatcher.Flush()
	}()

	if len(indices) == 0 {
		consumer.Infof("nothing (0 items) to extract!")
		return cb.result, nil
	}

	err = arch.ExtractSeveral(indices, cb)
	if err != nil {
		if errors.Cause(err) == pack.ErrCancelled {
			return nil, err
		}
		return nil, &pack.EngineError{Cause: err}
	}

	consumer.Statf("extracted %d items", len(indices))
	return cb.result, nil
}

// destExists checks whether archive-wide extraction would overwrite
// an existing path.
func destExists(outputPath string, canonicalPath string) (string, bool) {
	if outputPath == "" {
		return "", false
	}

	dest := filepath.Join(outputPath, filepath.FromSlash(canonicalPath))
	_, err := os.Lstat(dest)
	return dest, err == nil
}
