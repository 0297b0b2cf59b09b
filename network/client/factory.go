package client

import (
	"net"
	"strconv"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map"

	"github.com/GOptimistic/CloudShuffleService-fork/common/conf"
	cnet "github.com/GOptimistic/CloudShuffleService-fork/common/net"
	"github.com/GOptimistic/CloudShuffleService-fork/common/util"
)

// TransportClientFactory the process-wide pool of transport clients,
// shared by every epoch reader. Each worker address gets a fixed number
// of slots; a caller is mapped to a slot by hashing its slot key so one
// reader sticks to one connection.
type TransportClientFactory struct {
	timeout  time.Duration
	poolSize int
	pools    cmap.ConcurrentMap
	hasher   util.Hasher
}

type addrPool struct {
	mu      sync.Mutex
	addr    string
	clients []*TransportClient
}

func NewTransportClientFactory(cssConf *conf.CssConf) *TransportClientFactory {
	return &TransportClientFactory{
		timeout:  cssConf.FetchTimeout(),
		poolSize: cssConf.ClientPoolSize(),
		pools:    cmap.New(),
	}
}

// CreateClient returns a live client for (host, port), dialing the slot
// lazily and redialing slots whose client has closed itself.
func (f *TransportClientFactory) CreateClient(host string, port int, slotKey string) (*TransportClient, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	pool := f.pool(addr)
	slot := int(f.hasher.Sum64([]byte(slotKey)) % uint64(f.poolSize))

	pool.mu.Lock()
	defer pool.mu.Unlock()

	cli := pool.clients[slot]
	if cli != nil && !cli.IsClosed() {
		return cli, nil
	}

	cn, err := f.dial(addr)
	if err != nil {
		return nil, err
	}
	cli = NewTransportClient(cn, addr, f.timeout)
	pool.clients[slot] = cli
	log.Debug("Dialed %s (slot %d)", addr, slot)
	return cli, nil
}

// Close closes every pooled connection. Safe on a factory still in use;
// subsequent CreateClient calls redial.
func (f *TransportClientFactory) Close() {
	for tuple := range f.pools.IterBuffered() {
		pool := tuple.Val.(*addrPool)
		pool.mu.Lock()
		for i, cli := range pool.clients {
			if cli != nil {
				cli.Close()
				pool.clients[i] = nil
			}
		}
		pool.mu.Unlock()
	}
}

func (f *TransportClientFactory) pool(addr string) *addrPool {
	if pool, ok := f.pools.Get(addr); ok {
		return pool.(*addrPool)
	}

	created := &addrPool{addr: addr, clients: make([]*TransportClient, f.poolSize)}
	if !f.pools.SetIfAbsent(addr, created) {
		pool, _ := f.pools.Get(addr)
		return pool.(*addrPool)
	}
	return created
}

func (f *TransportClientFactory) dial(addr string) (net.Conn, error) {
	// Tests register shortcut addresses backed by in-process pipes.
	if cnet.Shortcut != nil {
		if sc, ok := cnet.Shortcut.GetConn(addr); ok {
			return sc.Validate(0).Conns[0].Client, nil
		}
	}
	return net.DialTimeout("tcp", addr, f.timeout)
}
