package main

import (
	"os"

	"github.com/packthread/packthread/comm"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	version = "head" // set by command-line on CI release builds
	app     = kingpin.New("packthread", "Drives an archive engine so you don't have to")

	mkCmd  = app.Command("mk", "Create an archive from a set of files")
	addCmd = app.Command("add", "Append files to an existing archive")
	mvCmd  = app.Command("mv", "Rename or delete entries inside an existing archive")
	xCmd   = app.Command("x", "Extract one or more archives")
	lsCmd  = app.Command("ls", "List the entries of an archive")
)

var appArgs = struct {
	json       *bool
	quiet      *bool
	verbose    *bool
	noProgress *bool
}{
	app.Flag("json", "Enable machine-readable JSON-lines output").Short('j').Bool(),
	app.Flag("quiet", "Hide progress indicators & other extra info").Short('q').Bool(),
	app.Flag("verbose", "Display as much extra info as possible").Short('v').Bool(),
	app.Flag("no-progress", "Doesn't show progress indicators").Bool(),
}

var mkArgs = struct {
	archive    *string
	files      *[]string
	format     *string
	level      *int
	method     *string
	password   *string
	volumeSize *int64
	flat       *bool
	fast       *bool
}{
	mkCmd.Arg("archive", "Path of the archive to create").Required().String(),
	mkCmd.Arg("files", "Files or directories to compress").Required().Strings(),
	mkCmd.Flag("format", "Container format").Default("7z").String(),
	mkCmd.Flag("level", "Compression level (1-9, 0 = engine default)").Default("0").Int(),
	mkCmd.Flag("method", "Compression method (lzma2, deflate, ...)").String(),
	mkCmd.Flag("password", "Encrypt with this password").String(),
	mkCmd.Flag("volume-size", "Split output into volumes of this many bytes (7z only)").Int64(),
	mkCmd.Flag("flat", "Drop directory structure, keep leaf names only").Bool(),
	mkCmd.Flag("fast", "Skip progress reporting").Bool(),
}

var addArgs = struct {
	archive  *string
	files    *[]string
	password *string
	flat     *bool
}{
	addCmd.Arg("archive", "Path of the archive to append to").Required().ExistingFile(),
	addCmd.Arg("files", "Files or directories to append").Required().Strings(),
	addCmd.Flag("password", "Archive password").String(),
	addCmd.Flag("flat", "Drop directory structure, keep leaf names only").Bool(),
}

var mvArgs = struct {
	archive  *string
	renames  *[]string
	deletes  *[]int64
	password *string
}{
	mvCmd.Arg("archive", "Path of the archive to modify").Required().ExistingFile(),
	mvCmd.Flag("rename", "index=newName pair, repeatable").Strings(),
	mvCmd.Flag("delete", "Index to delete, repeatable").Int64List(),
	mvCmd.Flag("password", "Archive password").String(),
}

var xArgs = struct {
	archives *[]string
	dir      *string
	password *string
	fast     *bool
}{
	xCmd.Arg("archives", "Paths of the archives to extract").Required().Strings(),
	xCmd.Flag("dir", "Directory to extract to").Default(".").Short('d').String(),
	xCmd.Flag("password", "Archive password").String(),
	xCmd.Flag("fast", "Skip progress reporting").Bool(),
}

var lsArgs = struct {
	archive  *string
	password *string
}{
	lsCmd.Arg("archive", "Path of the archive to list").Required().ExistingFile(),
	lsCmd.Flag("password", "Archive password").String(),
}

func must(err error) {
	if err != nil {
		comm.Dief("%s", err.Error())
	}
}

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		app.FatalUsage("%s", err.Error())
	}

	comm.Configure(*appArgs.noProgress, *appArgs.quiet, *appArgs.verbose, *appArgs.json)

	switch cmd {
	case mkCmd.FullCommand():
		mk()
	case addCmd.FullCommand():
		add()
	case mvCmd.FullCommand():
		mv()
	case xCmd.FullCommand():
		x()
	case lsCmd.FullCommand():
		ls()
	}
}
