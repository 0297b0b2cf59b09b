package compress

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
	"github.com/pierrec/xxHash/xxHash32"

	"github.com/GOptimistic/CloudShuffleService-fork/common/conf"
)

// Lz4Compressor frames blocks with LZ4 fast compression, falling back
// to RAW when compression does not pay. The buffer is sized for the
// configured push buffer size and regrown for over-sized blocks.
type Lz4Compressor struct {
	level    int
	testMode bool

	compressor lz4.Compressor
	buf        []byte
	totalSize  int
}

func NewLz4Compressor(cssConf *conf.CssConf) *Lz4Compressor {
	blockSize := int(cssConf.PushBufferSize())
	c := &Lz4Compressor{
		level:    CompressionLevel(blockSize),
		testMode: cssConf.CompressionTestMode(),
	}
	c.initBuffer(blockSize)
	return c
}

func (c *Lz4Compressor) Compress(data []byte) {
	check := xxHash32.Checksum(data, DefaultSeed)

	// lz4 worst case is length + length/255 + 16; regrow when the
	// buffer cannot take it.
	if len(c.buf)-HeaderLength-(len(data)/255+16) < len(data) {
		c.initBuffer(len(data))
	}

	method := CompressionMethodCSS
	compressedLength, err := c.compressor.CompressBlock(data, c.buf[HeaderLength:])
	if err != nil || compressedLength == 0 || compressedLength >= len(data) || c.testMode {
		method = CompressionMethodRaw
		compressedLength = len(data)
		copy(c.buf[HeaderLength:], data)
	}

	c.buf[MagicLength] = byte(method | c.level)
	binary.LittleEndian.PutUint32(c.buf[MagicLength+1:], uint32(compressedLength))
	binary.LittleEndian.PutUint32(c.buf[MagicLength+5:], uint32(len(data)))
	binary.LittleEndian.PutUint32(c.buf[MagicLength+9:], check)

	c.totalSize = HeaderLength + compressedLength
}

func (c *Lz4Compressor) CompressedBuffer() []byte {
	return c.buf
}

func (c *Lz4Compressor) CompressedTotalSize() int {
	return c.totalSize
}

func (c *Lz4Compressor) initBuffer(size int) {
	c.buf = make([]byte, HeaderLength+lz4.CompressBlockBound(size))
	copy(c.buf, Magic)
}
