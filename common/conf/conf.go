package conf

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GOptimistic/CloudShuffleService-fork/common/util"
)

// CssConf holds the shuffle service settings as a string map, the way
// they arrive from job submission. Typed getters apply defaults and
// parsing; unknown or malformed values fall back to the default.
type CssConf struct {
	mu       sync.RWMutex
	settings map[string]string
}

func New() *CssConf {
	return &CssConf{settings: make(map[string]string)}
}

func (c *CssConf) Set(key string, value string) *CssConf {
	c.mu.Lock()
	c.settings[strings.TrimSpace(key)] = strings.TrimSpace(value)
	c.mu.Unlock()
	return c
}

func (c *CssConf) Get(key string, def string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.settings[key]; ok {
		return v
	}
	return def
}

func (c *CssConf) GetInt(key string, def int) int {
	if v, err := strconv.Atoi(c.Get(key, strconv.Itoa(def))); err == nil {
		return v
	}
	return def
}

func (c *CssConf) GetBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(c.Get(key, strconv.FormatBool(def))); err == nil {
		return v
	}
	return def
}

func (c *CssConf) GetDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(c.Get(key, def.String())); err == nil {
		return v
	}
	return def
}

func (c *CssConf) GetSizeAsBytes(key string, def string) int64 {
	if v, err := util.ParseSize(c.Get(key, def)); err == nil {
		return v
	}
	v, _ := util.ParseSize(def)
	return v
}

// PushBufferSize is the block size the write path flushes at, and the
// size the compressor pre-allocates for.
func (c *CssConf) PushBufferSize() int64 {
	return c.GetSizeAsBytes("css.push.buffer.size", "64k")
}

// CompressionTestMode forces the RAW fallback of the codec.
func (c *CssConf) CompressionTestMode() bool {
	return c.GetBool("css.compression.test.mode", false)
}

// CompressionMaxBlockSize bounds both lengths accepted at decode.
func (c *CssConf) CompressionMaxBlockSize() int64 {
	return c.GetSizeAsBytes("css.compression.max.block.size", "4m")
}

// ChunkFetchFailedRetryMaxTimes is the fetch attempt budget per piece.
func (c *CssConf) ChunkFetchFailedRetryMaxTimes() int {
	return c.GetInt("css.chunk.fetch.retry.maxTimes", 3)
}

// ChunkFetchRetryWaitTimes is the constant wait between fetch attempts.
func (c *CssConf) ChunkFetchRetryWaitTimes() time.Duration {
	return c.GetDuration("css.chunk.fetch.retry.wait.times", 5*time.Millisecond)
}

// LocalChunkFetchEnabled turns on the co-located fast path. The remote
// reader in this repo ignores it; readers are always remote.
func (c *CssConf) LocalChunkFetchEnabled() bool {
	return c.GetBool("css.local.chunk.fetch.enabled", true)
}

// FetchTimeout is the per-RPC deadline on the transport.
func (c *CssConf) FetchTimeout() time.Duration {
	return c.GetDuration("css.fetch.timeout", 10*time.Second)
}

// ClientPoolSize is the number of pooled connections per worker address.
func (c *CssConf) ClientPoolSize() int {
	if n := c.GetInt("css.client.pool.size", 2); n > 0 {
		return n
	}
	return 1
}

// ClientConcurrency bounds the pooled shuffle clients per process.
func (c *CssConf) ClientConcurrency() int {
	if n := c.GetInt("css.client.concurrency", 5); n > 0 {
		return n
	}
	return 1
}
