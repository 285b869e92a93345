// Package press drives the compression direction: it merges the
// path-set resolver's entries with the mode coordinator's bookkeeping
// into one presented index space, feeds the engine through the update
// callback, splits output into volumes when asked, and guarantees
// cleanup (and exactly one PassFinished) on every exit path.
package press

import (
	"io"
	"os"

	"github.com/dchest/safefile"
	humanize "github.com/dustin/go-humanize"
	"github.com/itchio/wharf/counter"
	"github.com/itchio/wharf/eos"
	"github.com/itchio/wharf/state"
	"github.com/packthread/packthread/engine"
	"github.com/packthread/packthread/events"
	"github.com/packthread/packthread/pack"
	"github.com/packthread/packthread/volumes"
	"github.com/pkg/errors"
)

// multiVolumeFormat is the one container that supports splitting.
const multiVolumeFormat = "7z"

// Params configures one update pass.
type Params struct {
	// Target is the archive path being created or updated.
	Target string

	// Paths is the ordered set of absolute source paths.
	Paths []string

	// Memory maps entry names to in-memory byte sources. Presented
	// after Paths entries, in name order.
	Memory map[string][]byte

	// PreserveStructure keeps the directory tree below the common
	// root instead of flattening to leaf names.
	PreserveStructure bool

	Mode Mode

	// Dispositions is Modify's rename/delete map, keyed by old index.
	Dispositions map[int64]Disposition

	// Format is the container format; empty means 7z.
	Format string

	// Password arms encryption. Empty means unencrypted.
	Password string

	// Level is the compression level; 0 leaves the engine's default.
	Level int

	// Method is the compression method; empty leaves the default.
	Method string

	// ZipEncryption selects the zip encryption method, when relevant.
	ZipEncryption string

	// Custom carries advanced tuning switches. Names colliding with
	// the typed options above were already rejected when the bag was
	// built.
	Custom *engine.PropBag

	// VolumeSize splits output into volumes of this many bytes.
	// Only valid for the 7z container.
	VolumeSize int64

	// VolumeFirstSuffixed names the first volume target.001 instead
	// of plain target.
	VolumeFirstSuffixed bool

	// FastMode suppresses all progress reporting for this pass.
	FastMode bool

	Consumer   *state.Consumer
	Dispatcher *events.Dispatcher

	// Lib overrides the pooled engine library. Mostly for tests.
	Lib engine.Lib
}

func (params *Params) format() string {
	if params.Format == "" {
		return multiVolumeFormat
	}
	return params.Format
}

// validate raises configuration/input errors before any engine work.
func (params *Params) validate() error {
	if params.Target == "" {
		return pack.Inputf("no target archive given")
	}

	switch params.Mode {
	case Create, Append:
		if len(params.Paths) == 0 && len(params.Memory) == 0 {
			return pack.Inputf("empty source set for %s", params.Mode)
		}
	case Modify:
		if len(params.Paths) > 0 || len(params.Memory) > 0 {
			return pack.Inputf("modify takes no new sources, only a rename/delete map")
		}
	default:
		return pack.Inputf("unknown mode %d", params.Mode)
	}

	if params.Mode != Create {
		_, err := os.Stat(params.Target)
		if err != nil {
			return pack.Inputf("target %s: %s", params.Target, err.Error())
		}
	}

	if params.VolumeSize < 0 {
		return pack.Configf("negative volume size %d", params.VolumeSize)
	}
	if params.VolumeSize > 0 && params.format() != multiVolumeFormat {
		return pack.Configf("multi-volume output requires the %s container, not %s", multiVolumeFormat, params.format())
	}
	if params.VolumeSize > 0 && params.Mode != Create {
		// the volume writer truncates the target, which an update pass
		// is still reading from
		return pack.Configf("multi-volume output requires create mode, not %s", params.Mode)
	}

	return nil
}

// buildPropBag merges the typed options into (a copy of) the custom
// bag. Reserved-name collisions can't happen here: the custom bag
// rejected them at construction.
func (params *Params) buildPropBag() *engine.PropBag {
	bag := engine.NewPropBag()
	if params.Custom != nil {
		for _, name := range params.Custom.Names() {
			v, _ := params.Custom.Get(name)
			switch v.Kind {
			case engine.PropNumeric:
				bag.SetNumeric(name, v.Num)
			case engine.PropText:
				bag.SetText(name, v.Text)
			}
		}
	}

	if params.Level > 0 {
		bag.SetLevel(uint64(params.Level))
	}
	if params.Method != "" {
		bag.SetMethod(params.Method)
	}
	if params.ZipEncryption != "" {
		bag.SetZipEncryption(params.ZipEncryption)
	}

	return bag
}

// Press runs one update pass, synchronously. Once validation is done
// and the pass proper starts, PassFinished fires exactly once, after
// cleanup, whatever the outcome.
func Press(params Params) error {
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
		return err
	}

	coord, err := newCoordinator(params.Mode, params.Dispositions)
	if err != nil {
		return err
	}

	lib := params.Lib
	if lib == nil {
		pooled, release, err := engine.Acquire()
		if err != nil {
			return err
		}
		defer release()
		lib = pooled
	}

	// open-snapshot-close against the existing archive, before the
	// main pass
	err = coord.snapshotTarget(lib, params.Target, params.Password, consumer)
	if err != nil {
		return err
	}

	newEntries, err := resolveSources(&params)
	if err != nil {
		return err
	}

	plan := buildPlan(coord, newEntries)
	consumer.Infof("%s: presenting %d items (%d carried over) to the engine",
		params.Mode, plan.itemCount(), int64(len(plan.items))-int64(len(newEntries)))

	return runPass(&params, plan, lib, consumer, dispatcher)
}

// Start runs the pass on a background goroutine. onDone may be nil;
// completion is also observable through PassFinished.
func Start(params Params, onDone func(error)) *pack.Operation {
	op := pack.NewOperation(onDone)
	go func() {
		op.Finish(Press(params))
	}()
	return op
}

func runPass(params *Params, plan *plan, lib engine.Lib, consumer *state.Consumer, dispatcher *events.Dispatcher) (err error) {
	cb := newUpdateCallback(plan, consumer, dispatcher, params.FastMode)

	// output sink: a volume splitter, or a temp file that atomically
	// replaces the target on success
	var vw *volumes.Writer
	var sf *safefile.File
	if params.VolumeSize > 0 {
		vw, err = volumes.NewWriter(params.Target, params.VolumeSize)
		if err != nil {
			return err
		}
		vw.FirstSuffixed = params.VolumeFirstSuffixed
	} else {
		sf, err = safefile.Create(params.Target, 0644)
		if err != nil {
			return errors.Wrapf(err, "creating temp output for %s", params.Target)
		}
	}

	var outW io.Writer
	if vw != nil {
		outW = vw
	} else {
		outW = sf
	}
	cw := counter.NewWriter(outW)

	// guaranteed cleanup: release the last open source, aggregate
	// pass errors, finalize or discard output, then announce the end
	// of the pass exactly once
	defer func() {
		cb.finish()

		err = pack.CombineErrors(append([]error{err}, cb.errors()...)...)

		if err == nil {
			if vw != nil {
				err = vw.Close()
			} else {
				err = errors.Wrap(sf.Commit(), "committing output")
				sf.Close()
			}
		} else {
			// no partial output survives a failed pass
			if vw != nil {
				discardErr := vw.Discard()
				if discardErr != nil {
					consumer.Warnf("could not discard volumes: %s", discardErr.Error())
				}
			} else {
				sf.Close()
			}
		}

		if err == nil {
			consumer.Statf("wrote %s to %s", humanize.IBytes(uint64(cw.Count())), params.Target)
		}

		dispatcher.Emit(&events.PassFinished{Err: err})
		dispatcher.Flush()
	}()

	outStream, err := engine.NewOutStream(nopWriteCloser{cw})
	if err != nil {
		return err
	}
	defer outStream.Free()

	var arch engine.Archive
	if params.Mode == Create {
		arch, err = lib.CreateArchive(params.format())
		if err != nil {
			return &pack.EngineError{Cause: err}
		}
		defer arch.Close()
	} else {
		f, openErr := eos.Open(params.Target)
		if openErr != nil {
			return errors.Wrapf(openErr, "opening %s", params.Target)
		}
		defer f.Close()

		var in *engine.InStream
		arch, in, err = engine.OpenExisting(lib, f, params.Password, consumer)
		if err != nil {
			return err
		}
		defer in.Free()
		defer arch.Close()
	}

	err = arch.SetProperties(params.buildPropBag())
	if err != nil {
		return &pack.EngineError{Cause: err}
	}

	if params.Password != "" {
		err = arch.SetPassword(params.Password)
		if err != nil {
			return &pack.EngineError{Cause: err}
		}
	}

	err = arch.UpdateItems(outStream, plan.itemCount(), cb)
	if err != nil {
		return &pack.EngineError{Cause: err}
	}

	return nil
}

// nopWriteCloser keeps the engine from closing the pass's output:
// committing or discarding it is the driver's call, not the engine's.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
