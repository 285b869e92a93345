package press

import (
	"time"

	"github.com/itchio/wharf/eos"
	"github.com/itchio/wharf/state"
	"github.com/packthread/packthread/engine"
	"github.com/packthread/packthread/pack"
	"github.com/pkg/errors"
)

// Mode selects what an update pass does to the target archive.
type Mode int

const (
	// Create truncates/replaces the target.
	Create Mode = iota
	// Append adds new entries after the existing ones.
	Append
	// Modify renames or deletes existing entries, per an explicit map.
	Modify
)

func (m Mode) String() string {
	switch m {
	case Create:
		return "create"
	case Append:
		return "append"
	case Modify:
		return "modify"
	default:
		return "<unknown mode>"
	}
}

// A Disposition says what Modify does to one existing index: rename it
// or delete it.
type Disposition struct {
	NewName string
	Delete  bool
}

// coordinator carries the stale-archive bookkeeping for one pass: how
// many items the old archive had, their snapshotted metadata (Modify
// only), and the rename/delete map.
type coordinator struct {
	mode         Mode
	dispositions map[int64]Disposition

	oldCount int64
	snapshot []engine.ItemInfo
}

func newCoordinator(mode Mode, dispositions map[int64]Disposition) (*coordinator, error) {
	if mode == Modify && len(dispositions) == 0 {
		return nil, pack.Inputf("modify requires a non-empty rename/delete map")
	}
	if mode != Modify && len(dispositions) > 0 {
		return nil, pack.Inputf("rename/delete map is only valid in modify mode")
	}

	return &coordinator{
		mode:         mode,
		dispositions: dispositions,
	}, nil
}

// snapshotTarget runs the open-snapshot-close cycle against the
// existing archive, before the main pass starts. Create passes skip
// it entirely.
func (c *coordinator) snapshotTarget(lib engine.Lib, target string, password string, consumer *state.Consumer) error {
	if c.mode == Create {
		return nil
	}

	f, err := eos.Open(target)
	if err != nil {
		return pack.Inputf("cannot open target for %s: %s", c.mode, err.Error())
	}
	defer f.Close()

	arch, in, err := engine.OpenExisting(lib, f, password, consumer)
	if err != nil {
		return err
	}
	defer in.Free()
	defer arch.Close()

	if c.mode == Modify && !arch.CanUpdate() {
		// fail fast, before the snapshot step
		return &pack.EngineError{Cause: engine.ErrUpdateNotSupported}
	}

	count, err := arch.GetItemCount()
	if err != nil {
		return &pack.EngineError{Cause: err}
	}
	c.oldCount = count

	for idx := range c.dispositions {
		if idx < 0 || idx >= count {
			return pack.Inputf("rename/delete map refers to index %d, archive has %d items", idx, count)
		}
	}

	if c.mode == Modify {
		c.snapshot = make([]engine.ItemInfo, count)
		for i := int64(0); i < count; i++ {
			item := arch.GetItem(i)
			if item == nil {
				return &pack.EngineError{Cause: errors.Errorf("no item at index %d", i)}
			}
			c.snapshot[i] = itemInfo(item)
			item.Free()
		}
	}

	return nil
}

// oldItems produces the callback responses for items carried over from
// the existing archive, in new-index order. Deleted indices are simply
// absent from the presented index space.
func (c *coordinator) oldItems() []engine.ItemInfo {
	switch c.mode {
	case Append:
		res := make([]engine.ItemInfo, c.oldCount)
		for i := int64(0); i < c.oldCount; i++ {
			res[i] = engine.ItemInfo{Reuse: true, OldIndex: i}
		}
		return res

	case Modify:
		var res []engine.ItemInfo
		for i := int64(0); i < c.oldCount; i++ {
			d, mapped := c.dispositions[i]
			if mapped && d.Delete {
				continue
			}

			info := c.snapshot[i]
			info.Reuse = true
			info.OldIndex = i
			if mapped && d.NewName != "" {
				info.Path = d.NewName
			}
			res = append(res, info)
		}
		return res
	}

	return nil
}

// itemInfo reads one engine item into callback-response form.
func itemInfo(item engine.Item) engine.ItemInfo {
	info := engine.ItemInfo{}

	if path, ok := item.GetStringProperty(engine.PidPath); ok {
		info.Path = path
	}
	if isDir, ok := item.GetBoolProperty(engine.PidIsDir); ok {
		info.IsDir = isDir
	}
	if size, ok := item.GetUInt64Property(engine.PidSize); ok {
		info.Size = int64(size)
	}
	if attrib, ok := item.GetUInt64Property(engine.PidAttrib); ok {
		info.Attrib = uint32(attrib)
	}
	if encrypted, ok := item.GetBoolProperty(engine.PidEncrypted); ok {
		info.IsEncrypted = encrypted
	}

	info.CTime = timeFromProp(item, engine.PidCTime)
	info.MTime = timeFromProp(item, engine.PidMTime)
	info.ATime = timeFromProp(item, engine.PidATime)

	return info
}

func timeFromProp(item engine.Item, id engine.PropertyIndex) time.Time {
	nanos, ok := item.GetUInt64Property(id)
	if !ok || nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(nanos))
}
