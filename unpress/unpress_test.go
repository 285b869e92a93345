package unpress

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/packthread/packthread/engine/enginetest"
	"github.com/packthread/packthread/events"
	"github.com/packthread/packthread/pack"
	"github.com/packthread/packthread/press"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeArchive presses a small structured tree and returns the archive
// path: a.txt, sub/ (dir), sub/b.txt, sub/c.txt.
func makeArchive(t *testing.T, lib *enginetest.Lib, password string) (string, string) {
	dir, err := ioutil.TempDir("", "unpress")
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

	target := filepath.Join(dir, "out.7z")
	require.NoError(t, press.Press(press.Params{
		Target:            target,
		Paths:             files,
		PreserveStructure: true,
		Mode:              press.Create,
		Password:          password,
		Lib:               lib,
	}))

	return dir, target
}

func TestExtractRoundTrip(t *testing.T) {
	lib := enginetest.NewLib()
	dir, target := makeArchive(t, lib, "")
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "out")
	res, err := Extract(Params{
		Path:       target,
		OutputPath: out,
		Lib:        lib,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Cancelled)

	// directories are materialized but only content-bearing items are
	// recorded in the result
	require.Len(t, res.Entries, 3)
	assert.Equal(t, "a.txt", res.Entries[0].CanonicalPath)

	for _, name := range []string{"a.txt", "sub/b.txt", "sub/c.txt"} {
		data, err := ioutil.ReadFile(filepath.Join(out, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, "contents of "+filepath.Base(name), string(data))
	}

	stats, err := os.Lstat(filepath.Join(out, "sub"))
	require.NoError(t, err)
	assert.True(t, stats.IsDir())
}

func TestExtractCancel(t *testing.T) {
	lib := enginetest.NewLib()
	dir, target := makeArchive(t, lib, "")
	defer os.RemoveAll(dir)

	dispatcher := events.NewDispatcher(events.Sync)
	var passEvents []*events.PassFinished
	cancel := dispatcher.Subscribe(func(ev interface{}) {
		switch ev := ev.(type) {
		case *events.ItemStarting:
			if ev.Entry.CanonicalPath == "sub/b.txt" {
				ev.Cancel = true
			}
		case *events.PassFinished:
			passEvents = append(passEvents, ev)
		}
	})
	defer cancel()

	out := filepath.Join(dir, "out")
	res, err := Extract(Params{
		Path:       target,
		OutputPath: out,
		Dispatcher: dispatcher,
		Lib:        lib,
	})

	// cancellation is a clean outcome, not a failure
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)

	_, err = os.Lstat(filepath.Join(out, "a.txt"))
	assert.NoError(t, err, "items before the cancel point are extracted")
	_, err = os.Lstat(filepath.Join(out, "sub", "b.txt"))
	assert.True(t, os.IsNotExist(err), "nothing extracted at or past the cancel point")
	_, err = os.Lstat(filepath.Join(out, "sub", "c.txt"))
	assert.True(t, os.IsNotExist(err))

	require.Len(t, passEvents, 1)
	assert.True(t, passEvents[0].Cancelled)
	assert.NoError(t, passEvents[0].Err)
}

func TestExtractSkip(t *testing.T) {
	lib := enginetest.NewLib()
	dir, target := makeArchive(t, lib, "")
	defer os.RemoveAll(dir)

	dispatcher := events.NewDispatcher(events.Sync)
	var skippedFinish *events.ItemFinished
	cancel := dispatcher.Subscribe(func(ev interface{}) {
		switch ev := ev.(type) {
		case *events.ItemStarting:
			if ev.Entry.CanonicalPath == "sub/b.txt" {
				ev.Skip = true
			}
		case *events.ItemFinished:
			if ev.Entry.CanonicalPath == "sub/b.txt" {
				skippedFinish = ev
			}
		}
	})
	defer cancel()

	out := filepath.Join(dir, "out")
	res, err := Extract(Params{
		Path:       target,
		OutputPath: out,
		Dispatcher: dispatcher,
		Lib:        lib,
	})
	require.NoError(t, err)
	assert.False(t, res.Cancelled)

	// only the skipped item is missing
	_, err = os.Lstat(filepath.Join(out, "a.txt"))
	assert.NoError(t, err)
	_, err = os.Lstat(filepath.Join(out, "sub", "b.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(filepath.Join(out, "sub", "c.txt"))
	assert.NoError(t, err)

	// skipped items still announce their finish, with zero bytes
	require.NotNil(t, skippedFinish)
	assert.EqualValues(t, 0, skippedFinish.Bytes)

	for _, entry := range res.Entries {
		assert.NotEqual(t, "sub/b.txt", entry.CanonicalPath)
	}
}

func TestExtractToWriter(t *testing.T) {
	lib := enginetest.NewLib()
	dir, target := makeArchive(t, lib, "")
	defer os.RemoveAll(dir)

	buf := new(bytes.Buffer)
	res, err := Extract(Params{
		Path:      target,
		Indices:   []int64{2}, // sub/b.txt
		Writer:    buf,
		LeaveOpen: true,
		Lib:       lib,
	})
	require.NoError(t, err)
	assert.Equal(t, "contents of b.txt", buf.String())
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "sub/b.txt", res.Entries[0].CanonicalPath)
	assert.EqualValues(t, len("contents of b.txt"), res.Entries[0].Size)
}

func TestExtractValidation(t *testing.T) {
	lib := enginetest.NewLib()
	dir, target := makeArchive(t, lib, "")
	defer os.RemoveAll(dir)

	t.Run("no archive", func(t *testing.T) {
		_, err := Extract(Params{OutputPath: dir, Lib: lib})
		_, ok := err.(*pack.InputError)
		assert.True(t, ok, "%v", err)
	})

	t.Run("writer needs exactly one index", func(t *testing.T) {
		_, err := Extract(Params{
			Path:   target,
			Writer: new(bytes.Buffer),
			Lib:    lib,
		})
		_, ok := err.(*pack.InputError)
		assert.True(t, ok, "%v", err)
	})

	t.Run("no destination", func(t *testing.T) {
		_, err := Extract(Params{Path: target, Lib: lib})
		_, ok := err.(*pack.StreamError)
		assert.True(t, ok, "%v", err)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := Extract(Params{
			Path:       target,
			OutputPath: filepath.Join(dir, "out"),
			Indices:    []int64{42},
			Lib:        lib,
		})
		_, ok := err.(*pack.InputError)
		assert.True(t, ok, "%v", err)
	})
}

func TestExtractPassword(t *testing.T) {
	lib := enginetest.NewLib()
	dir, target := makeArchive(t, lib, "hunter2")
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "out")

	t.Run("wrong password", func(t *testing.T) {
		_, err := Extract(Params{
			Path:       target,
			OutputPath: out,
			Password:   "wrong",
			Lib:        lib,
		})
		require.Error(t, err)
		_, ok := err.(*pack.EngineError)
		assert.True(t, ok, "%v", err)
	})

	t.Run("right password", func(t *testing.T) {
		res, err := Extract(Params{
			Path:       target,
			OutputPath: out,
			Password:   "hunter2",
			Lib:        lib,
		})
		require.NoError(t, err)
		assert.Len(t, res.Entries, 3)
		for _, entry := range res.Entries {
			assert.True(t, entry.IsEncrypted)
		}
	})
}

func TestExtractFastMode(t *testing.T) {
	lib := enginetest.NewLib()
	dir, target := makeArchive(t, lib, "")
	defer os.RemoveAll(dir)

	dispatcher := events.NewDispatcher(events.Sync)
	counts := make(map[string]int)
	cancel := dispatcher.Subscribe(func(ev interface{}) {
		switch ev.(type) {
		case *events.Progress:
			counts["progress"]++
		case *events.ItemFinished:
			counts["finished"]++
		case *events.PassFinished:
			counts["pass"]++
		}
	})
	defer cancel()

	_, err := Extract(Params{
		Path:       target,
		OutputPath: filepath.Join(dir, "out"),
		FastMode:   true,
		Dispatcher: dispatcher,
		Lib:        lib,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, counts["progress"])
	assert.True(t, counts["finished"] >= 3)
	assert.Equal(t, 1, counts["pass"])
}

func TestDestinationExists(t *testing.T) {
	lib := enginetest.NewLib()
	dir, target := makeArchive(t, lib, "")
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "out")
	_, err := Extract(Params{Path: target, OutputPath: out, Lib: lib})
	require.NoError(t, err)

	dispatcher := events.NewDispatcher(events.Sync)
	var existing []string
	cancel := dispatcher.Subscribe(func(ev interface{}) {
		if exists, ok := ev.(*events.DestinationExists); ok {
			existing = append(existing, exists.Entry.CanonicalPath)
		}
	})
	defer cancel()

	// second pass over the same output: every file already exists
	_, err = Extract(Params{
		Path:       target,
		OutputPath: out,
		Dispatcher: dispatcher,
		Lib:        lib,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/b.txt", "sub/c.txt"}, existing)
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "a/b/c.txt", sanitizePath("a\\b\\c.txt"))
	assert.Equal(t, "plain.txt", sanitizePath("plain.txt"))
}
