package client

import (
	"github.com/GOptimistic/CloudShuffleService-fork/client/compress"
	"github.com/GOptimistic/CloudShuffleService-fork/client/stream"
	"github.com/GOptimistic/CloudShuffleService-fork/common/conf"
	"github.com/GOptimistic/CloudShuffleService-fork/common/logger"
	"github.com/GOptimistic/CloudShuffleService-fork/common/protocol"
	transport "github.com/GOptimistic/CloudShuffleService-fork/network/client"
)

var log logger.ILogger = &logger.ColorLogger{
	Prefix: "ShuffleClient ",
	Level:  logger.LOG_LEVEL_INFO,
	Color:  true,
}

// ShuffleClient the per-executor entry point of the shuffle service.
// It owns the transport client pool shared by all epoch readers of the
// process; the control plane hands the caller the committed pieces per
// reduce partition.
type ShuffleClient struct {
	cssConf *conf.CssConf
	factory *transport.TransportClientFactory
}

func NewShuffleClient(cssConf *conf.CssConf) *ShuffleClient {
	if cssConf == nil {
		cssConf = conf.New()
	}
	return &ShuffleClient{
		cssConf: cssConf,
		factory: transport.NewTransportClientFactory(cssConf),
	}
}

// CreateEpochReader builds the reader over the ordered replicas of one
// reduce partition. The pieces array is borrowed, not retained beyond
// the reader's lifetime.
func (c *ShuffleClient) CreateEpochReader(shuffleKey string,
	pieces []*protocol.CommittedPartitionInfo) (stream.EpochReader, error) {
	log.Debug("Creating epoch reader over %d pieces of %s", len(pieces), shuffleKey)
	return stream.NewEpochReader(c.cssConf, c.factory, shuffleKey, pieces)
}

// NewCompressor builds the framed-block encoder for the write path.
func (c *ShuffleClient) NewCompressor() compress.Compressor {
	return compress.NewLz4Compressor(c.cssConf)
}

// NewDecompressor builds the framed-block decoder for the read path.
func (c *ShuffleClient) NewDecompressor() compress.Decompressor {
	return compress.NewLz4Decompressor(c.cssConf)
}

// Close tears down the pooled connections. Readers created by this
// client see their next fetch fail, then redial and resume, at the
// cost of one attempt of their retry budget.
func (c *ShuffleClient) Close() {
	log.Info("Cleaning up...")
	c.factory.Close()
	log.Info("Client closed.")
}
