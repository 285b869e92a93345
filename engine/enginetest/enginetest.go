// Package enginetest is an in-memory archive engine for tests: it
// honors the same pull-callback contracts as a real binding, but its
// "container format" is just a gob blob. No compression happens.
package enginetest

import (
	"bytes"
	"encoding/gob"
	"io"
	"io/ioutil"
	"time"

	"github.com/packthread/packthread/engine"
	"github.com/pkg/errors"
)

// chunkSize keeps item payloads flowing in several writes, so
// progress callbacks get exercised like they would with a real engine.
const chunkSize = 16 * 1024

type storedItem struct {
	Info engine.ItemInfo
	Data []byte
}

type blob struct {
	Format   string
	Password string
	Items    []storedItem
}

type Lib struct {
	freed bool
}

var _ engine.Lib = (*Lib)(nil)

func NewLib() *Lib {
	return &Lib{}
}

func (l *Lib) OpenArchive(in *engine.InStream, password string, bySignature bool) (engine.Archive, error) {
	_, err := in.Seek(0, io.SeekStart)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	payload, err := ioutil.ReadAll(in)
	if err != nil {
		return nil, errors.Wrap(err, "reading archive blob")
	}

	var b blob
	err = gob.NewDecoder(bytes.NewReader(payload)).Decode(&b)
	if err != nil {
		return nil, errors.WithStack(engine.ErrNotSupportedArchive)
	}

	if b.Password != "" && b.Password != password {
		return nil, errors.WithStack(engine.ErrNeedPassword)
	}

	return &Archive{
		format: b.Format,
		items:  b.Items,
	}, nil
}

func (l *Lib) CreateArchive(format string) (engine.Archive, error) {
	return &Archive{
		format: format,
		fresh:  true,
	}, nil
}

func (l *Lib) Free() {
	l.freed = true
}

// Freed reports whether the pool released this lib, for refcount tests.
func (l *Lib) Freed() bool {
	return l.freed
}

type Archive struct {
	format   string
	items    []storedItem
	fresh    bool
	password string
	props    *engine.PropBag
	readOnly bool
}

var _ engine.Archive = (*Archive)(nil)

// SetReadOnly makes CanUpdate report false, like a read-only binding.
func (a *Archive) SetReadOnly() {
	a.readOnly = true
}

func (a *Archive) GetArchiveFormat() string {
	return a.format
}

func (a *Archive) GetItemCount() (int64, error) {
	return int64(len(a.items)), nil
}

func (a *Archive) GetItem(index int64) engine.Item {
	if index < 0 || index >= int64(len(a.items)) {
		return nil
	}
	return &Item{
		index: index,
		info:  a.items[index].Info,
	}
}

func (a *Archive) CanUpdate() bool {
	return !a.readOnly
}

func (a *Archive) SetProperties(props *engine.PropBag) error {
	a.props = props
	return nil
}

// Props returns the last property bag handed to SetProperties.
func (a *Archive) Props() *engine.PropBag {
	return a.props
}

func (a *Archive) SetPassword(password string) error {
	a.password = password
	return nil
}

func (a *Archive) UpdateItems(out *engine.OutStream, totalItems int64, funcs engine.UpdateCallbackFuncs) error {
	// metadata pre-scan, like 7-zip's initial property sweep
	infos := make([]*engine.ItemInfo, totalItems)
	var totalBytes int64
	for i := int64(0); i < totalItems; i++ {
		info, err := funcs.GetItemInfo(i)
		if err != nil {
			return errors.Wrap(err, "getting item info")
		}
		if info == nil {
			return errors.Errorf("nil item info for index %d", i)
		}
		infos[i] = info

		if info.Reuse {
			if info.OldIndex < 0 || info.OldIndex >= int64(len(a.items)) {
				return errors.Errorf("reuse of out-of-range index %d", info.OldIndex)
			}
			totalBytes += int64(len(a.items[info.OldIndex].Data))
		} else if !info.IsDir {
			totalBytes += info.Size
		}
	}
	funcs.SetTotal(totalBytes)

	var completed int64
	var newItems []storedItem
	for i := int64(0); i < totalItems; i++ {
		info := infos[i]

		if info.Reuse {
			old := a.items[info.OldIndex]
			kept := storedItem{Info: old.Info, Data: old.Data}
			if info.Path != "" {
				kept.Info.Path = info.Path
			}
			newItems = append(newItems, kept)

			completed += int64(len(old.Data))
			funcs.SetCompleted(completed)
			continue
		}

		item := storedItem{Info: *info}
		if a.password != "" {
			item.Info.IsEncrypted = true
		}

		if !info.IsDir {
			strm, err := funcs.GetStream(i)
			if err != nil {
				return errors.Wrap(err, "getting item stream")
			}
			if strm == nil {
				// no content, omit entirely
				continue
			}

			buf := make([]byte, chunkSize)
			for {
				n, err := strm.Read(buf)
				if n > 0 {
					item.Data = append(item.Data, buf[:n]...)
					completed += int64(n)
					funcs.SetCompleted(completed)
				}
				if err == io.EOF {
					break
				}
				if err != nil {
					return errors.Wrap(err, "reading item stream")
				}
			}
		}

		newItems = append(newItems, item)

		err := funcs.SetOperationResult(engine.OpOK)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	payload := &bytes.Buffer{}
	err := gob.NewEncoder(payload).Encode(&blob{
		Format:   a.format,
		Password: a.password,
		Items:    newItems,
	})
	if err != nil {
		return errors.Wrap(err, "encoding archive blob")
	}

	// write in chunks so multi-volume sinks get several rolls
	data := payload.Bytes()
	for len(data) > 0 {
		n := len(data)
		if n > chunkSize {
			n = chunkSize
		}
		_, err := out.Write(data[:n])
		if err != nil {
			return errors.Wrap(err, "writing archive blob")
		}
		data = data[n:]
	}

	return nil
}

func (a *Archive) ExtractSeveral(indices []int64, funcs engine.ExtractCallbackFuncs) error {
	var totalBytes int64
	for _, idx := range indices {
		if idx < 0 || idx >= int64(len(a.items)) {
			return errors.Errorf("extract of out-of-range index %d", idx)
		}
		totalBytes += int64(len(a.items[idx].Data))
	}

	var completed int64
	for _, idx := range indices {
		item := &Item{index: idx, info: a.items[idx].Info}

		strm, err := funcs.GetStream(item)
		if err != nil {
			return errors.Wrap(err, "getting destination stream")
		}
		if strm == nil {
			// skipped
			completed += int64(len(a.items[idx].Data))
			funcs.SetProgress(completed, totalBytes)
			continue
		}

		data := a.items[idx].Data
		for len(data) > 0 {
			n := len(data)
			if n > chunkSize {
				n = chunkSize
			}
			written, err := strm.Write(data[:n])
			if err != nil {
				strm.Close()
				return errors.Wrap(err, "writing item data")
			}
			completed += int64(written)
			funcs.SetProgress(completed, totalBytes)
			data = data[n:]
		}

		err = strm.Close()
		if err != nil {
			return errors.Wrap(err, "closing destination stream")
		}

		err = funcs.SetOperationResult(engine.OpOK)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

func (a *Archive) Close() {
	// nothing held open
}

type Item struct {
	index int64
	info  engine.ItemInfo
}

var _ engine.Item = (*Item)(nil)

func (i *Item) GetArchiveIndex() int64 {
	return i.index
}

func (i *Item) GetStringProperty(id engine.PropertyIndex) (string, bool) {
	switch id {
	case engine.PidPath:
		return i.info.Path, true
	}
	return "", false
}

func (i *Item) GetUInt64Property(id engine.PropertyIndex) (uint64, bool) {
	switch id {
	case engine.PidSize:
		return uint64(i.info.Size), true
	case engine.PidAttrib:
		return uint64(i.info.Attrib), true
	case engine.PidCTime:
		return timeProp(i.info.CTime)
	case engine.PidMTime:
		return timeProp(i.info.MTime)
	case engine.PidATime:
		return timeProp(i.info.ATime)
	}
	return 0, false
}

func (i *Item) GetBoolProperty(id engine.PropertyIndex) (bool, bool) {
	switch id {
	case engine.PidIsDir:
		return i.info.IsDir, true
	case engine.PidEncrypted:
		return i.info.IsEncrypted, true
	}
	return false, false
}

func (i *Item) Free() {
	// nothing to release
}

func timeProp(t time.Time) (uint64, bool) {
	if t.IsZero() {
		return 0, false
	}
	return uint64(t.UnixNano()), true
}
