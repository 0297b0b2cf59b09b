package stream

import (
	"errors"

	"github.com/GOptimistic/CloudShuffleService-fork/common/conf"
	"github.com/GOptimistic/CloudShuffleService-fork/common/logger"
	"github.com/GOptimistic/CloudShuffleService-fork/common/protocol"
	"github.com/GOptimistic/CloudShuffleService-fork/network/buffer"
	transport "github.com/GOptimistic/CloudShuffleService-fork/network/client"
)

var log logger.ILogger = &logger.ColorLogger{
	Prefix: "EpochReader ",
	Level:  logger.LOG_LEVEL_INFO,
	Color:  true,
}

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrReaderClosed    = errors.New("reader closed")
	ErrEpochExhausted  = errors.New("epoch exhausted")
	ErrNoMoreChunks    = errors.New("no more chunks")
)

// EpochReader streams the chunks of one reduce partition. A successful
// read yields the chunks of exactly one piece, in index order.
type EpochReader interface {
	// HasNext reports whether more chunks may be produced. It inspects
	// local state only and never performs I/O.
	HasNext() bool

	// Next returns the next chunk. Blocks on I/O. Terminal failures
	// surface as ErrEpochExhausted; after Close it is ErrReaderClosed.
	Next() (buffer.ManagedBuffer, error)

	// Close releases the stream and transport resources. Idempotent;
	// interrupts an in-flight Next.
	Close() error
}

// NewEpochReader selects the reader variant for the epoch. The
// co-located fast path is served elsewhere; every epoch handled here
// reads remotely, whatever css.local.chunk.fetch.enabled says.
func NewEpochReader(cssConf *conf.CssConf, factory *transport.TransportClientFactory,
	shuffleKey string, pieces []*protocol.CommittedPartitionInfo) (EpochReader, error) {
	if cssConf == nil {
		cssConf = conf.New()
	}
	if cssConf.LocalChunkFetchEnabled() {
		log.Debug("Local chunk fetch requested for %s, serving remotely", shuffleKey)
	}
	return NewRemoteDiskEpochReader(cssConf, factory, shuffleKey, pieces)
}
