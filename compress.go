package main

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/packthread/packthread/comm"
	"github.com/packthread/packthread/pack"
	"github.com/packthread/packthread/pathset"
	"github.com/packthread/packthread/press"
)

func mk() {
	comm.Opf("Creating %s from %d inputs", *mkArgs.archive, len(*mkArgs.files))

	must(press.Press(press.Params{
		Target:            *mkArgs.archive,
		Paths:             gatherPaths(*mkArgs.files),
		PreserveStructure: !*mkArgs.flat,
		Mode:              press.Create,
		Format:            *mkArgs.format,
		Level:             *mkArgs.level,
		Method:            *mkArgs.method,
		Password:          *mkArgs.password,
		VolumeSize:        *mkArgs.volumeSize,
		FastMode:          *mkArgs.fast,
		Consumer:          comm.NewStateConsumer(),
	}))
}

func add() {
	comm.Opf("Appending %d inputs to %s", len(*addArgs.files), *addArgs.archive)

	must(press.Press(press.Params{
		Target:            *addArgs.archive,
		Paths:             gatherPaths(*addArgs.files),
		PreserveStructure: !*addArgs.flat,
		Mode:              press.Append,
		Password:          *addArgs.password,
		Consumer:          comm.NewStateConsumer(),
	}))
}

func mv() {
	dispositions := make(map[int64]press.Disposition)

	for _, pair := range *mvArgs.renames {
		tokens := strings.SplitN(pair, "=", 2)
		if len(tokens) != 2 {
			comm.Dief("malformed --rename %q, want index=newName", pair)
		}
		index, err := strconv.ParseInt(tokens[0], 10, 64)
		must(err)
		dispositions[index] = press.Disposition{NewName: tokens[1]}
	}

	for _, index := range *mvArgs.deletes {
		dispositions[index] = press.Disposition{Delete: true}
	}

	comm.Opf("Modifying %s (%d dispositions)", *mvArgs.archive, len(dispositions))

	must(press.Press(press.Params{
		Target:       *mvArgs.archive,
		Mode:         press.Modify,
		Dispositions: dispositions,
		Password:     *mvArgs.password,
		Consumer:     comm.NewStateConsumer(),
	}))
}

// gatherPaths makes inputs absolute and walks directories into the
// files they contain.
func gatherPaths(inputs []string) []string {
	var absolute []string
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		must(err)
		absolute = append(absolute, abs)
	}

	expanded, err := pathset.ExpandDirs(absolute)
	must(err)

	if len(expanded) == 0 {
		must(pack.Inputf("no files to compress"))
	}
	return expanded
}
