package buffer

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// FileSegmentBuffer a ManagedBuffer over a byte range of a committed
// partition file on the worker. The file is opened lazily and held
// until Release.
type FileSegmentBuffer struct {
	Path   string
	Offset int64
	Length int64

	mu   sync.Mutex
	file *os.File
}

func NewFileSegmentBuffer(path string, offset int64, length int64) *FileSegmentBuffer {
	return &FileSegmentBuffer{
		Path:   path,
		Offset: offset,
		Length: length,
	}
}

func (b *FileSegmentBuffer) Size() int64 {
	return b.Length
}

func (b *FileSegmentBuffer) Bytes() ([]byte, error) {
	file, err := b.open()
	if err != nil {
		return nil, err
	}

	data := make([]byte, b.Length)
	if _, err := file.ReadAt(data, b.Offset); err != nil {
		return nil, fmt.Errorf("read segment %s: %v", b, err)
	}
	return data, nil
}

func (b *FileSegmentBuffer) Reader() (io.Reader, error) {
	file, err := b.open()
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(file, b.Offset, b.Length), nil
}

func (b *FileSegmentBuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		b.file.Close()
		b.file = nil
	}
}

func (b *FileSegmentBuffer) String() string {
	return fmt.Sprintf("%s[%d:%d]", b.Path, b.Offset, b.Offset+b.Length)
}

func (b *FileSegmentBuffer) open() (*os.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		file, err := os.Open(b.Path)
		if err != nil {
			return nil, err
		}
		b.file = file
	}
	return b.file, nil
}
