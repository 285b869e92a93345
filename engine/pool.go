package engine

import (
	"sync"

	"github.com/pkg/errors"
)

// LoaderFunc loads the engine library. Bindings register one at init
// time; loading is expensive (dlopen and friends) so the pool shares
// one Lib across the process.
type LoaderFunc func() (Lib, error)

var pool struct {
	mu     sync.Mutex
	loader LoaderFunc
	lib    Lib
	refs   int
}

// SetLoader registers the process-wide engine loader. Typically called
// from a binding package's init.
func SetLoader(fn LoaderFunc) {
	pool.mu.Lock()
	pool.loader = fn
	pool.mu.Unlock()
}

// Acquire returns the shared Lib, loading it on first use. The
// returned release func must be called exactly once; the last release
// frees the library. Acquire/release never race: all transitions hold
// one mutex.
func Acquire() (Lib, func(), error) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.lib == nil {
		if pool.loader == nil {
			return nil, nil, errors.New("no engine loader registered")
		}

		lib, err := pool.loader()
		if err != nil {
			return nil, nil, errors.Wrap(err, "loading engine library")
		}
		pool.lib = lib
	}

	pool.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			pool.mu.Lock()
			defer pool.mu.Unlock()

			pool.refs--
			if pool.refs == 0 {
				pool.lib.Free()
				pool.lib = nil
			}
		})
	}

	return pool.lib, release, nil
}
