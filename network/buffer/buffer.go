package buffer

import (
	"bytes"
	"io"
)

// ManagedBuffer is one chunk's worth of bytes in transit. Ownership
// transfers to the receiver, who must Release it.
type ManagedBuffer interface {
	// Size is the byte length of the chunk.
	Size() int64

	// Bytes materializes the chunk.
	Bytes() ([]byte, error)

	// Reader streams the chunk. Valid until Release.
	Reader() (io.Reader, error)

	// Release frees the underlying resources. Idempotent.
	Release()
}

// BytesBuffer an in-memory ManagedBuffer, what the client yields per
// fetched chunk.
type BytesBuffer struct {
	data []byte
}

func NewBytesBuffer(data []byte) *BytesBuffer {
	return &BytesBuffer{data: data}
}

func (b *BytesBuffer) Size() int64 {
	return int64(len(b.data))
}

func (b *BytesBuffer) Bytes() ([]byte, error) {
	return b.data, nil
}

func (b *BytesBuffer) Reader() (io.Reader, error) {
	return bytes.NewReader(b.data), nil
}

func (b *BytesBuffer) Release() {
	b.data = nil
}
