package press

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/itchio/wharf/eos"
	"github.com/itchio/wharf/state"
	"github.com/packthread/packthread/engine"
	"github.com/packthread/packthread/engine/enginetest"
	"github.com/packthread/packthread/events"
	"github.com/packthread/packthread/pack"
	"github.com/packthread/packthread/volumes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSources(t *testing.T) (string, []string) {
	dir, err := ioutil.TempDir("", "press")
	require.NoError(t, err)

	files := []string{
		filepath.Join(dir, "src", "a.txt"),
		filepath.Join(dir, "src", "sub", "b.txt"),
		filepath.Join(dir, "src", "sub", "c.txt"),
	}
	for _, file := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(file), 0755))
		require.NoError(t, ioutil.WriteFile(file, []byte("contents of "+filepath.Base(file)), 0644))
	}
	return dir, files
}

func listItems(t *testing.T, lib engine.Lib, target string, password string) []engine.ItemInfo {
	f, err := eos.Open(target)
	require.NoError(t, err)
	defer f.Close()

	arch, in, err := engine.OpenExisting(lib, f, password, &state.Consumer{})
	require.NoError(t, err)
	defer in.Free()
	defer arch.Close()

	count, err := arch.GetItemCount()
	require.NoError(t, err)

	var infos []engine.ItemInfo
	for i := int64(0); i < count; i++ {
		item := arch.GetItem(i)
		require.NotNil(t, item)
		infos = append(infos, itemInfo(item))
		item.Free()
	}
	return infos
}

func itemPaths(infos []engine.ItemInfo) []string {
	var res []string
	for _, info := range infos {
		res = append(res, info.Path)
	}
	return res
}

func TestCreateFlattened(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	err := Press(Params{
		Target: target,
		Paths:  files,
		Mode:   Create,
		Lib:    lib,
	})
	require.NoError(t, err)

	infos := listItems(t, lib, target, "")
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, itemPaths(infos))
	for _, info := range infos {
		assert.False(t, info.IsDir)
		assert.EqualValues(t, len("contents of a.txt"), info.Size)
	}
}

func TestCreateStructured(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	err := Press(Params{
		Target:            target,
		Paths:             files,
		PreserveStructure: true,
		Mode:              Create,
		Lib:               lib,
	})
	require.NoError(t, err)

	infos := listItems(t, lib, target, "")
	assert.Equal(t, []string{"a.txt", "sub", "sub/b.txt", "sub/c.txt"}, itemPaths(infos))
	assert.True(t, infos[1].IsDir)
}

func TestAppend(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	err := Press(Params{
		Target: target,
		Paths:  files[:2],
		Mode:   Create,
		Lib:    lib,
	})
	require.NoError(t, err)

	err = Press(Params{
		Target: target,
		Paths:  files[2:],
		Mode:   Append,
		Lib:    lib,
	})
	require.NoError(t, err)

	// existing entries keep their indices and names; new ones follow
	infos := listItems(t, lib, target, "")
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, itemPaths(infos))
}

func TestModifyRenameDelete(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	err := Press(Params{
		Target: target,
		Paths:  files,
		Mode:   Create,
		Lib:    lib,
	})
	require.NoError(t, err)

	err = Press(Params{
		Target: target,
		Mode:   Modify,
		Dispositions: map[int64]Disposition{
			0: {NewName: "renamed.txt"},
			1: {Delete: true},
		},
		Lib: lib,
	})
	require.NoError(t, err)

	// deleted indices are simply absent, survivors keep their order
	infos := listItems(t, lib, target, "")
	require.Equal(t, []string{"renamed.txt", "c.txt"}, itemPaths(infos))
	assert.EqualValues(t, len("contents of a.txt"), infos[0].Size)
}

func TestValidationErrors(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	isInput := func(err error) bool {
		_, ok := err.(*pack.InputError)
		return ok
	}
	isConfig := func(err error) bool {
		_, ok := err.(*pack.ConfigurationError)
		return ok
	}

	t.Run("create with empty sources", func(t *testing.T) {
		err := Press(Params{Target: target, Mode: Create, Lib: lib})
		assert.True(t, isInput(err), "%v", err)
	})

	t.Run("append to missing target", func(t *testing.T) {
		err := Press(Params{
			Target: filepath.Join(dir, "not-there.7z"),
			Paths:  files,
			Mode:   Append,
			Lib:    lib,
		})
		assert.True(t, isInput(err), "%v", err)
	})

	t.Run("modify without a map", func(t *testing.T) {
		require.NoError(t, Press(Params{Target: target, Paths: files, Mode: Create, Lib: lib}))
		err := Press(Params{Target: target, Mode: Modify, Lib: lib})
		assert.True(t, isInput(err), "%v", err)
	})

	t.Run("modify with new sources", func(t *testing.T) {
		err := Press(Params{
			Target:       target,
			Paths:        files,
			Mode:         Modify,
			Dispositions: map[int64]Disposition{0: {Delete: true}},
			Lib:          lib,
		})
		assert.True(t, isInput(err), "%v", err)
	})

	t.Run("map outside modify", func(t *testing.T) {
		err := Press(Params{
			Target:       target,
			Paths:        files,
			Mode:         Create,
			Dispositions: map[int64]Disposition{0: {Delete: true}},
			Lib:          lib,
		})
		assert.True(t, isInput(err), "%v", err)
	})

	t.Run("map index out of range", func(t *testing.T) {
		err := Press(Params{
			Target:       target,
			Mode:         Modify,
			Dispositions: map[int64]Disposition{99: {Delete: true}},
			Lib:          lib,
		})
		assert.True(t, isInput(err), "%v", err)
	})

	t.Run("multi-volume outside create", func(t *testing.T) {
		require.NoError(t, Press(Params{Target: target, Paths: files, Mode: Create, Lib: lib}))
		err := Press(Params{
			Target:     target,
			Paths:      files,
			Mode:       Append,
			VolumeSize: 4096,
			Lib:        lib,
		})
		assert.True(t, isConfig(err), "%v", err)
	})

	t.Run("multi-volume outside 7z", func(t *testing.T) {
		err := Press(Params{
			Target:     target,
			Paths:      files,
			Mode:       Create,
			Format:     "zip",
			VolumeSize: 4096,
			Lib:        lib,
		})
		assert.True(t, isConfig(err), "%v", err)
	})
}

func TestVolumeSplitting(t *testing.T) {
	dir, err := ioutil.TempDir("", "press")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	err = Press(Params{
		Target:     target,
		Memory:     map[string][]byte{"big.bin": payload},
		Mode:       Create,
		VolumeSize: 4096,
		Lib:        lib,
	})
	require.NoError(t, err)

	var paths []string
	for seq := 1; ; seq++ {
		path := volumes.VolumePath(target, seq, false)
		if _, err := os.Lstat(path); err != nil {
			break
		}
		paths = append(paths, path)
	}
	require.True(t, len(paths) >= 2, "expected several volumes, got %d", len(paths))

	// every volume but the last is exactly the configured capacity
	var joined []byte
	for i, path := range paths {
		data, err := ioutil.ReadFile(path)
		require.NoError(t, err)
		if i < len(paths)-1 {
			assert.Len(t, data, 4096, path)
		} else {
			assert.True(t, len(data) > 0 && len(data) < 4096, path)
		}
		joined = append(joined, data...)
	}

	// the concatenated volumes are the archive
	whole := filepath.Join(dir, "joined.7z")
	require.NoError(t, ioutil.WriteFile(whole, joined, 0644))
	infos := listItems(t, lib, whole, "")
	require.Len(t, infos, 1)
	assert.Equal(t, "big.bin", infos[0].Path)
	assert.EqualValues(t, len(payload), infos[0].Size)
}

func countEvents(dispatcher *events.Dispatcher, counts map[string]int) func() {
	return dispatcher.Subscribe(func(ev interface{}) {
		switch ev.(type) {
		case *events.ItemStarted:
			counts["started"]++
		case *events.Progress:
			counts["progress"]++
		case *events.ItemFinished:
			counts["finished"]++
		case *events.PassFinished:
			counts["pass"]++
		}
	})
}

func TestEventFlow(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	dispatcher := events.NewDispatcher(events.Sync)
	counts := make(map[string]int)
	cancel := countEvents(dispatcher, counts)
	defer cancel()

	err := Press(Params{
		Target:     target,
		Paths:      files,
		Mode:       Create,
		Dispatcher: dispatcher,
		Lib:        lib,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, counts["started"])
	assert.Equal(t, 3, counts["finished"])
	assert.True(t, counts["progress"] > 0, "expected progress ticks")
	assert.Equal(t, 1, counts["pass"], "PassFinished fires exactly once")
}

func TestFastModeSuppressesProgress(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	dispatcher := events.NewDispatcher(events.Sync)
	counts := make(map[string]int)
	cancel := countEvents(dispatcher, counts)
	defer cancel()

	err := Press(Params{
		Target:     target,
		Paths:      files,
		Mode:       Create,
		FastMode:   true,
		Dispatcher: dispatcher,
		Lib:        lib,
	})
	require.NoError(t, err)

	// start/finish notifications survive fast mode, progress ticks don't
	assert.Equal(t, 0, counts["progress"])
	assert.Equal(t, 3, counts["started"])
	assert.Equal(t, 3, counts["finished"])
	assert.Equal(t, 1, counts["pass"])
}

func TestEncryptedAppend(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	err := Press(Params{
		Target:   target,
		Paths:    files[:1],
		Mode:     Create,
		Password: "hunter2",
		Lib:      lib,
	})
	require.NoError(t, err)

	t.Run("wrong password is an engine error", func(t *testing.T) {
		err := Press(Params{
			Target:   target,
			Paths:    files[1:],
			Mode:     Append,
			Password: "wrong",
			Lib:      lib,
		})
		require.Error(t, err)
		_, ok := err.(*pack.EngineError)
		assert.True(t, ok, "%v", err)
	})

	t.Run("right password appends", func(t *testing.T) {
		err := Press(Params{
			Target:   target,
			Paths:    files[1:],
			Mode:     Append,
			Password: "hunter2",
			Lib:      lib,
		})
		require.NoError(t, err)

		infos := listItems(t, lib, target, "hunter2")
		assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, itemPaths(infos))
	})
}

func TestMemorySources(t *testing.T) {
	dir, err := ioutil.TempDir("", "press")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	err = Press(Params{
		Target: target,
		Memory: map[string][]byte{
			"zeta.txt":  []byte("last"),
			"alpha.txt": []byte("first"),
		},
		Mode: Create,
		Lib:  lib,
	})
	require.NoError(t, err)

	// in-memory entries are presented in name order
	infos := listItems(t, lib, target, "")
	assert.Equal(t, []string{"alpha.txt", "zeta.txt"}, itemPaths(infos))

	t.Run("nil byte source", func(t *testing.T) {
		err := Press(Params{
			Target: filepath.Join(dir, "bad.7z"),
			Memory: map[string][]byte{"broken": nil},
			Mode:   Create,
			Lib:    lib,
		})
		require.Error(t, err)
		_, ok := err.(*pack.StreamError)
		assert.True(t, ok, "%v", err)
	})
}

func TestFailedPassLeavesNoOutput(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	require.NoError(t, Press(Params{
		Target: target,
		Paths:  files,
		Mode:   Create,
		Lib:    lib,
	}))
	before, err := ioutil.ReadFile(target)
	require.NoError(t, err)

	// a source that disappears mid-pass fails it; the target archive
	// must survive untouched
	gone := filepath.Join(dir, "gone.txt")
	require.NoError(t, ioutil.WriteFile(gone, []byte("short-lived"), 0644))

	dispatcher := events.NewDispatcher(events.Sync)
	cancel := dispatcher.Subscribe(func(ev interface{}) {
		if started, ok := ev.(*events.ItemStarted); ok && started.Entry.CanonicalPath == "a.txt" {
			os.Remove(gone)
		}
	})
	defer cancel()

	err = Press(Params{
		Target:     target,
		Paths:      []string{files[0], gone},
		Mode:       Create,
		Dispatcher: dispatcher,
		Lib:        lib,
	})
	require.Error(t, err)

	after, err := ioutil.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed pass must not clobber the target")
}

func TestMultiVolumeUpdateLeavesTargetIntact(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	require.NoError(t, Press(Params{
		Target: target,
		Paths:  files,
		Mode:   Create,
		Lib:    lib,
	}))
	before, err := ioutil.ReadFile(target)
	require.NoError(t, err)

	// splitting an update pass would truncate the very archive the
	// engine is reading from; it must be refused before any I/O
	for _, mode := range []Mode{Append, Modify} {
		params := Params{
			Target:     target,
			Mode:       mode,
			VolumeSize: 64,
			Lib:        lib,
		}
		switch mode {
		case Append:
			params.Paths = files
		case Modify:
			params.Dispositions = map[int64]Disposition{0: {Delete: true}}
		}

		err := Press(params)
		require.Error(t, err, mode)
		_, ok := err.(*pack.ConfigurationError)
		assert.True(t, ok, "%s: %v", mode, err)

		after, err := ioutil.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, before, after, "%s must not touch the target", mode)
		_, err = os.Lstat(volumes.VolumePath(target, 2, false))
		assert.True(t, os.IsNotExist(err), "%s must not write volumes", mode)
	}
}

// readOnlyLib opens archives through the fake engine but hands back
// read-only handles, like a binding without update support.
type readOnlyLib struct {
	*enginetest.Lib
}

func (l *readOnlyLib) OpenArchive(in *engine.InStream, password string, bySignature bool) (engine.Archive, error) {
	arch, err := l.Lib.OpenArchive(in, password, bySignature)
	if err != nil {
		return nil, err
	}
	arch.(*enginetest.Archive).SetReadOnly()
	return arch, nil
}

func TestModifyReadOnlyEngine(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	require.NoError(t, Press(Params{
		Target: target,
		Paths:  files,
		Mode:   Create,
		Lib:    lib,
	}))
	before, err := ioutil.ReadFile(target)
	require.NoError(t, err)

	err = Press(Params{
		Target:       target,
		Mode:         Modify,
		Dispositions: map[int64]Disposition{0: {Delete: true}},
		Lib:          &readOnlyLib{lib},
	})
	require.Error(t, err)

	// fails fast, before the snapshot and before any output work
	ee, ok := err.(*pack.EngineError)
	require.True(t, ok, "%v", err)
	assert.Equal(t, engine.ErrUpdateNotSupported, ee.Cause)

	after, err := ioutil.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestItemFinishedReportsServedBytes(t *testing.T) {
	dir, err := ioutil.TempDir("", "press")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	source := filepath.Join(dir, "a.bin")
	require.NoError(t, ioutil.WriteFile(source, make([]byte, 100), 0644))

	entry := &pack.Entry{
		CanonicalPath: "a.bin",
		Source:        pack.SourceFile,
		SourcePath:    source,
		Size:          100,
	}
	p := &plan{items: []planItem{{
		info:  engine.ItemInfo{Path: entry.CanonicalPath, Size: entry.Size},
		entry: entry,
	}}}

	dispatcher := events.NewDispatcher(events.Sync)
	var finished *events.ItemFinished
	cancel := dispatcher.Subscribe(func(ev interface{}) {
		if ev, ok := ev.(*events.ItemFinished); ok {
			finished = ev
		}
	})
	defer cancel()

	cb := newUpdateCallback(p, &state.Consumer{}, dispatcher, false)
	in, err := cb.GetStream(0)
	require.NoError(t, err)
	require.NotNil(t, in)

	// the engine pulls only part of the declared size
	_, err = io.ReadFull(in, make([]byte, 10))
	require.NoError(t, err)
	cb.finish()

	require.NotNil(t, finished)
	assert.EqualValues(t, 10, finished.Bytes, "report bytes actually served, not the declared size")
}

func TestDeferredEventFlow(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	dispatcher := events.NewDispatcher(events.Deferred)
	defer dispatcher.Close()

	type itemEvent struct {
		kind string
		path string
	}
	var mu sync.Mutex
	var flow []itemEvent
	cancel := dispatcher.Subscribe(func(ev interface{}) {
		mu.Lock()
		defer mu.Unlock()
		switch ev := ev.(type) {
		case *events.ItemStarted:
			flow = append(flow, itemEvent{"started", ev.Entry.CanonicalPath})
		case *events.ItemFinished:
			flow = append(flow, itemEvent{"finished", ev.Entry.CanonicalPath})
		case *events.PassFinished:
			flow = append(flow, itemEvent{kind: "pass"})
		}
	})
	defer cancel()

	err := Press(Params{
		Target:     target,
		Paths:      files,
		Mode:       Create,
		Dispatcher: dispatcher,
		Lib:        lib,
	})
	require.NoError(t, err)

	// Press flushes the dispatcher before returning: the full FIFO
	// history is visible here, in emission order
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []itemEvent{
		{"started", "a.txt"},
		{"finished", "a.txt"},
		{"started", "b.txt"},
		{"finished", "b.txt"},
		{"started", "c.txt"},
		{"finished", "c.txt"},
		{kind: "pass"},
	}, flow)
}

func TestStart(t *testing.T) {
	dir, files := makeSources(t)
	defer os.RemoveAll(dir)
	lib := enginetest.NewLib()
	target := filepath.Join(dir, "out.7z")

	var doneErr error
	done := make(chan struct{})
	op := Start(Params{
		Target: target,
		Paths:  files,
		Mode:   Create,
		Lib:    lib,
	}, func(err error) {
		doneErr = err
		close(done)
	})

	require.NoError(t, op.Wait(context.Background()))
	<-done
	assert.NoError(t, doneErr)
	assert.Len(t, listItems(t, lib, target, ""), 3)
}
