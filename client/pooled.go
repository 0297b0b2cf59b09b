package client

import (
	"github.com/GOptimistic/CloudShuffleService-fork/client/stream"
	"github.com/GOptimistic/CloudShuffleService-fork/common/conf"
	"github.com/GOptimistic/CloudShuffleService-fork/common/protocol"
	"github.com/GOptimistic/CloudShuffleService-fork/common/sync"
)

// PooledShuffleClient bounds the shuffle clients of one process. Tasks
// borrow a client per read and put it back when the reader is built.
type PooledShuffleClient struct {
	// Concurrency supported
	Concurrency int

	pool *sync.Pool
}

func NewPooledShuffleClient(cssConf *conf.CssConf, options ...func(*PooledShuffleClient)) *PooledShuffleClient {
	if cssConf == nil {
		cssConf = conf.New()
	}
	cli := &PooledShuffleClient{
		Concurrency: cssConf.ClientConcurrency(),
	}
	for _, option := range options {
		option(cli)
	}

	cli.pool = sync.InitPool(&sync.Pool{
		New: func() interface{} {
			return NewShuffleClient(cssConf)
		},
		Finalize: func(c interface{}) {
			c.(*ShuffleClient).Close()
		},
	}, cli.Concurrency, sync.PoolForPerformance)

	return cli
}

func (c *PooledShuffleClient) CreateEpochReader(shuffleKey string,
	pieces []*protocol.CommittedPartitionInfo) (stream.EpochReader, error) {
	cli := c.pool.Get().(*ShuffleClient)
	defer c.pool.Put(cli)

	return cli.CreateEpochReader(shuffleKey, pieces)
}

func (c *PooledShuffleClient) Close() {
	c.pool.Close()
}
