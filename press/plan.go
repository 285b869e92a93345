package press

import (
	"sort"

	"github.com/packthread/packthread/engine"
	"github.com/packthread/packthread/pack"
	"github.com/packthread/packthread/pathset"
)

// A planItem is one slot of the presented index space: the callback
// response plus, for new items, the entry it was built from.
type planItem struct {
	info  engine.ItemInfo
	entry *pack.Entry
}

// A plan is the merged output of the path-set resolver and the mode
// coordinator: every item the engine will ask about, in presentation
// order, indices contiguous from zero.
type plan struct {
	items []planItem
}

func (p *plan) itemCount() int64 {
	return int64(len(p.items))
}

// buildPlan lays out old items first (append/modify), then new
// entries, assigning indices as it goes.
func buildPlan(coord *coordinator, newEntries []*pack.Entry) *plan {
	p := &plan{}

	for _, info := range coord.oldItems() {
		p.items = append(p.items, planItem{info: info})
	}

	for _, entry := range newEntries {
		entry.Index = int64(len(p.items))
		p.items = append(p.items, planItem{
			info: engine.ItemInfo{
				Path:   entry.CanonicalPath,
				IsDir:  entry.IsDir,
				Size:   entry.Size,
				Attrib: entry.Attrib,
				CTime:  entry.CTime,
				MTime:  entry.MTime,
				ATime:  entry.ATime,
			},
			entry: entry,
		})
	}

	return p
}

// resolveSources expands the caller's file set and in-memory map into
// new entries. Memory entries come after file entries, in name order
// (maps have none of their own).
func resolveSources(params *Params) ([]*pack.Entry, error) {
	var entries []*pack.Entry

	if len(params.Paths) > 0 {
		resolved, err := pathset.Resolve(params.Paths, pathset.ResolveOptions{
			PreserveStructure: params.PreserveStructure,
		})
		if err != nil {
			return nil, err
		}
		entries = resolved
	}

	if len(params.Memory) > 0 {
		names := make([]string, 0, len(params.Memory))
		for name := range params.Memory {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			data := params.Memory[name]
			if data == nil {
				return nil, pack.Streamf("nil byte source for in-memory entry %q", name)
			}
			entries = append(entries, &pack.Entry{
				CanonicalPath: name,
				Source:        pack.SourceMemory,
				Data:          data,
				Size:          int64(len(data)),
			})
		}
	}

	return entries, nil
}
