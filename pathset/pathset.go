// Package pathset turns a caller-supplied list of absolute paths into
// the ordered, deduplicated entry list an update pass presents to the
// engine: a common root is computed, and (when directory structure is
// preserved) every ancestor directory between that root and each leaf
// becomes its own entry.
package pathset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/packthread/packthread/pack"
)

// ResolveOptions control entry expansion.
type ResolveOptions struct {
	// PreserveStructure keeps the directory tree below the common
	// root: ancestor directories become entries of their own. When
	// false, only leaf files are kept and pure-directory inputs are
	// dropped.
	PreserveStructure bool
}

// CommonRootLength computes the length of the longest path prefix,
// aligned on separator boundaries, shared by every path in the set.
// The root never includes a trailing separator, and never swallows an
// entire path: a single-file set's root is its parent directory.
// An empty set has root length 0.
func CommonRootLength(paths []string) int {
	if len(paths) == 0 {
		return 0
	}

	sep := string(filepath.Separator)

	segs := make([][]string, len(paths))
	minCount := -1
	for i, path := range paths {
		segs[i] = strings.Split(path, sep)
		if minCount < 0 || len(segs[i]) < minCount {
			minCount = len(segs[i])
		}
	}

	common := 0
	for pos := 0; pos < minCount; pos++ {
		candidate := segs[0][pos]
		match := true
		for _, s := range segs[1:] {
			if s[pos] != candidate {
				match = false
				break
			}
		}
		if !match {
			break
		}
		common++
	}

	// the root must be a proper prefix: back off the leaf segment
	// when every path matched entirely
	if common == minCount {
		common--
	}
	if common <= 0 {
		return 0
	}

	length := 0
	for pos := 0; pos < common; pos++ {
		if pos > 0 {
			length++ // separator
		}
		length += len(segs[0][pos])
	}

	// no trailing separator in the root
	if length > 0 && length <= len(paths[0]) && strings.HasSuffix(paths[0][:length], sep) {
		length--
	}

	return length
}

// Resolve expands paths into an ordered entry list. Each path is
// stat'ed; sizes, timestamps and dir-ness come from the filesystem.
// Indices are not assigned here: the update plan owns index space.
func Resolve(paths []string, opts ResolveOptions) ([]*pack.Entry, error) {
	if len(paths) == 0 {
		return nil, pack.Inputf("empty file set")
	}

	rootLength := CommonRootLength(paths)

	var entries []*pack.Entry
	seenDirs := make(map[string]bool)

	addDir := func(canonical string, sample os.FileInfo) {
		if canonical == "" || seenDirs[canonical] {
			return
		}
		seenDirs[canonical] = true

		entry := &pack.Entry{
			CanonicalPath: canonical,
			Source:        pack.SourceNone,
			IsDir:         true,
		}
		if sample != nil {
			entry.MTime = sample.ModTime()
		}
		entries = append(entries, entry)
	}

	for _, path := range paths {
		if len(path) < rootLength {
			return nil, pack.Inputf("invalid file names: %q is shorter than the common root", path)
		}

		stats, err := os.Lstat(path)
		if err != nil {
			return nil, pack.Inputf("cannot stat %q: %s", path, err.Error())
		}

		canonical := canonicalize(path, rootLength)
		if canonical == "" {
			// the common root itself
			continue
		}

		if stats.IsDir() {
			if opts.PreserveStructure {
				addDir(canonical, stats)
			}
			// flattened mode drops pure-directory inputs
			continue
		}

		if opts.PreserveStructure {
			// ancestors first, once each, in first-seen order
			parts := strings.Split(canonical, "/")
			for i := 1; i < len(parts); i++ {
				addDir(strings.Join(parts[:i], "/"), nil)
			}
		} else {
			canonical = leafName(canonical)
		}

		entries = append(entries, &pack.Entry{
			CanonicalPath: canonical,
			Source:        pack.SourceFile,
			SourcePath:    path,
			Size:          stats.Size(),
			MTime:         stats.ModTime(),
			IsDir:         false,
		})
	}

	return entries, nil
}

// ExpandDirs walks directory inputs into their contained files,
// leaving file inputs as-is. Order is input order, with each
// directory's files in walk order.
func ExpandDirs(paths []string) ([]string, error) {
	var out []string
	for _, path := range paths {
		stats, err := os.Lstat(path)
		if err != nil {
			return nil, pack.Inputf("cannot stat %q: %s", path, err.Error())
		}

		if !stats.IsDir() {
			out = append(out, path)
			continue
		}

		err = filepath.Walk(path, func(sub string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			out = append(out, sub)
			return nil
		})
		if err != nil {
			return nil, pack.Inputf("cannot walk %q: %s", path, err.Error())
		}
	}
	return out, nil
}

func canonicalize(path string, rootLength int) string {
	rel := path[rootLength:]
	rel = strings.TrimPrefix(rel, string(filepath.Separator))
	return filepath.ToSlash(rel)
}

func leafName(canonical string) string {
	if i := strings.LastIndex(canonical, "/"); i >= 0 {
		return canonical[i+1:]
	}
	return canonical
}
