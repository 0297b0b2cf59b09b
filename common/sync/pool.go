package sync

import "sync"

var (
	PoolForStrictConcurrency = PoolPerformanceOption(1)
	PoolForPerformance       = PoolPerformanceOption(2)
)

type PoolPerformanceOption int

// Pool is a capacity-bounded object pool. Unlike sync.Pool it never
// drops idle objects and it blocks once capacity is reached, which is
// what a fixed budget of shuffle clients per executor needs.
type Pool struct {
	New      func() interface{}
	Finalize func(interface{})

	capacity  int
	allocated int
	pooled    chan interface{}

	mu   sync.Mutex
	cond *sync.Cond
}

func NewPool(cap int, opt PoolPerformanceOption) *Pool {
	return (&Pool{}).init(cap, opt)
}

func InitPool(p *Pool, cap int, opt PoolPerformanceOption) *Pool {
	return p.init(cap, opt)
}

func (p *Pool) init(cap int, opt PoolPerformanceOption) *Pool {
	p.capacity = cap * int(opt)
	p.pooled = make(chan interface{}, p.capacity)
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Get returns a pooled object, allocates a new one under capacity, or
// blocks until one is put back.
func (p *Pool) Get() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		select {
		case i := <-p.pooled:
			return i
		default:
			if p.allocated < p.capacity {
				p.allocated++
				if p.New == nil {
					return nil
				}
				return p.New()
			}

			p.cond.Wait()
		}
	}
}

func (p *Pool) Put(i interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case p.pooled <- i:
		p.cond.Signal()
	default:
		// Over capacity, unlikely. Drop it.
		if p.Finalize != nil {
			p.Finalize(i)
		}
	}
}

// Close finalizes all idle objects. Objects still checked out are the
// holder's to finalize.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	finalize := p.Finalize
	for len(p.pooled) > 0 {
		i := <-p.pooled
		if finalize != nil {
			finalize(i)
		}
	}
}
