package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
	"github.com/pierrec/xxHash/xxHash32"

	"github.com/GOptimistic/CloudShuffleService-fork/common/conf"
)

// Lz4Decompressor inverts Lz4Compressor. A checksum mismatch is fatal
// for the block; readers treat it like a chunk fetch failure.
type Lz4Decompressor struct {
	maxBlockSize int64
}

func NewLz4Decompressor(cssConf *conf.CssConf) *Lz4Decompressor {
	return &Lz4Decompressor{
		maxBlockSize: cssConf.CompressionMaxBlockSize(),
	}
}

func (d *Lz4Decompressor) Decompress(src []byte) ([]byte, error) {
	compressedLength, originalLength, err := d.header(src)
	if err != nil {
		return nil, err
	}

	payload := src[HeaderLength : HeaderLength+compressedLength]
	var original []byte
	switch src[MagicLength] & CompressionMethodMask {
	case CompressionMethodRaw:
		if compressedLength != originalLength {
			return nil, fmt.Errorf("%w: raw lengths differ (%d != %d)",
				ErrMalformedBlock, compressedLength, originalLength)
		}
		original = make([]byte, originalLength)
		copy(original, payload)
	case CompressionMethodCSS:
		original = make([]byte, originalLength)
		n, err := lz4.UncompressBlock(payload, original)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
		}
		if n != originalLength {
			return nil, fmt.Errorf("%w: decompressed %d bytes, expected %d",
				ErrMalformedBlock, n, originalLength)
		}
	}

	if xxHash32.Checksum(original, DefaultSeed) != binary.LittleEndian.Uint32(src[MagicLength+9:]) {
		return nil, ErrChecksumMismatch
	}
	return original, nil
}

// BlockSize returns the total framed size of the block at the head of
// src, header included.
func (d *Lz4Decompressor) BlockSize(src []byte) (int, error) {
	compressedLength, _, err := d.header(src)
	if err != nil {
		return 0, err
	}
	return HeaderLength + compressedLength, nil
}

func (d *Lz4Decompressor) header(src []byte) (compressedLength int, originalLength int, err error) {
	if len(src) < HeaderLength {
		return 0, 0, ErrTruncatedBlock
	}
	if !bytes.Equal(src[:MagicLength], Magic) {
		return 0, 0, ErrBadMagic
	}

	compressedLength = int(int32(binary.LittleEndian.Uint32(src[MagicLength+1:])))
	originalLength = int(int32(binary.LittleEndian.Uint32(src[MagicLength+5:])))
	if compressedLength < 0 || int64(compressedLength) > d.maxBlockSize ||
		originalLength < 0 || int64(originalLength) > d.maxBlockSize {
		return 0, 0, ErrBlockTooLarge
	}
	if len(src) < HeaderLength+compressedLength {
		return 0, 0, ErrTruncatedBlock
	}
	return compressedLength, originalLength, nil
}

// BlockReader walks the framed blocks packed into one chunk buffer,
// yielding one original block at a time.
type BlockReader struct {
	d   *Lz4Decompressor
	buf []byte
	off int
}

func NewBlockReader(d *Lz4Decompressor, buf []byte) *BlockReader {
	return &BlockReader{d: d, buf: buf}
}

func (r *BlockReader) HasNext() bool {
	return r.off < len(r.buf)
}

func (r *BlockReader) Next() ([]byte, error) {
	size, err := r.d.BlockSize(r.buf[r.off:])
	if err != nil {
		return nil, err
	}
	original, err := r.d.Decompress(r.buf[r.off : r.off+size])
	if err != nil {
		return nil, err
	}
	r.off += size
	return original, nil
}
