package engine

import (
	"io"

	"github.com/pkg/errors"
)

// ReaderAtCloser is what input streams are made of: the engine seeks
// freely, so plain io.Readers don't qualify.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// An InStream adapts a ReaderAtCloser to the engine's sequential
// read/seek discipline. It does not own the underlying reader: Free
// releases engine-side state only, closing is the caller's business.
type InStream struct {
	reader ReaderAtCloser
	size   int64
	offset int64
	ext    string
	err    error
	freed  bool
}

// NewInStream makes an InStream over reader. ext (no leading dot) is a
// hint for format detection; size must be the stream's total length.
func NewInStream(reader ReaderAtCloser, ext string, size int64) (*InStream, error) {
	if reader == nil {
		return nil, errors.New("nil reader for InStream")
	}
	if size < 0 {
		return nil, errors.Errorf("negative size (%d) for InStream", size)
	}

	return &InStream{
		reader: reader,
		size:   size,
		ext:    ext,
	}, nil
}

func (in *InStream) Read(p []byte) (int, error) {
	if in.offset >= in.size {
		return 0, io.EOF
	}

	if max := in.size - in.offset; int64(len(p)) > max {
		p = p[:max]
	}

	n, err := in.reader.ReadAt(p, in.offset)
	in.offset += int64(n)
	if err != nil && err != io.EOF {
		in.err = err
		return n, err
	}
	return n, nil
}

func (in *InStream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		in.offset = offset
	case io.SeekCurrent:
		in.offset += offset
	case io.SeekEnd:
		in.offset = in.size + offset
	}

	return in.offset, nil
}

func (in *InStream) Size() int64 {
	return in.size
}

func (in *InStream) Ext() string {
	return in.ext
}

func (in *InStream) SetExt(ext string) {
	in.ext = ext
}

func (in *InStream) Error() error {
	return in.err
}

func (in *InStream) Free() {
	in.freed = true
}

// An OutStream adapts an io.WriteCloser to the engine's write
// discipline. Closing is idempotent.
type OutStream struct {
	writer io.WriteCloser
	closed bool
	err    error
}

func NewOutStream(writer io.WriteCloser) (*OutStream, error) {
	if writer == nil {
		return nil, errors.New("nil writer for OutStream")
	}

	return &OutStream{
		writer: writer,
	}, nil
}

func (out *OutStream) Write(p []byte) (int, error) {
	n, err := out.writer.Write(p)
	if err != nil {
		out.err = err
	}
	return n, err
}

func (out *OutStream) Close() error {
	if out.closed {
		// already closed
		return nil
	}
	out.closed = true
	return out.writer.Close()
}

func (out *OutStream) Error() error {
	return out.err
}

func (out *OutStream) Free() {
	// engine-side state only; the writer belongs to whoever made it
}
