package main

import (
	humanize "github.com/dustin/go-humanize"
	"github.com/itchio/wharf/eos"
	"github.com/packthread/packthread/comm"
	"github.com/packthread/packthread/engine"
)

func ls() {
	consumer := comm.NewStateConsumer()

	lib, release, err := engine.Acquire()
	must(err)
	defer release()

	f, err := eos.Open(*lsArgs.archive)
	must(err)
	defer f.Close()

	arch, in, err := engine.OpenExisting(lib, f, *lsArgs.password, consumer)
	must(err)
	defer in.Free()
	defer arch.Close()

	count, err := arch.GetItemCount()
	must(err)

	comm.Statf("%s: %s, %d items", *lsArgs.archive, arch.GetArchiveFormat(), count)

	for i := int64(0); i < count; i++ {
		item := arch.GetItem(i)
		if item == nil {
			continue
		}

		path, _ := item.GetStringProperty(engine.PidPath)
		size, _ := item.GetUInt64Property(engine.PidSize)
		if isDir, _ := item.GetBoolProperty(engine.PidIsDir); isDir {
			comm.Logf("%6d  %10s  %s/", i, "-", path)
		} else {
			comm.Logf("%6d  %10s  %s", i, humanize.IBytes(size), path)
		}
		item.Free()
	}
}
