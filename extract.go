package main

import (
	"path/filepath"

	"github.com/packthread/packthread/comm"
	"github.com/packthread/packthread/unpress"
	"golang.org/x/sync/errgroup"
)

func x() {
	archives := *xArgs.archives

	// independent passes may run concurrently as long as they target
	// distinct output paths
	var g errgroup.Group
	for _, archive := range archives {
		archive := archive
		g.Go(func() error {
			dir := *xArgs.dir
			if len(archives) > 1 {
				base := filepath.Base(archive)
				dir = filepath.Join(dir, trimArchiveExt(base))
			}

			comm.Opf("Extracting %s to %s", archive, dir)
			_, err := unpress.Extract(unpress.Params{
				Path:       archive,
				OutputPath: dir,
				Password:   *xArgs.password,
				FastMode:   *xArgs.fast,
				Consumer:   comm.NewStateConsumer(),
			})
			return err
		})
	}

	must(g.Wait())
}

func trimArchiveExt(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return name
	}
	return name[:len(name)-len(ext)]
}
