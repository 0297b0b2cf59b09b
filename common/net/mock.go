package net

import (
	"fmt"
	"sync"

	mock "github.com/jordwest/mock-conn"
)

// Shortcut Registry of in-process connections for tests. A shortcut
// address stands in for a worker (host, port); dialing it yields the
// client end of a mock pipe whose server end the test drives directly.
var Shortcut *shortcut

type shortcut struct {
	mu    sync.Mutex
	ports map[string]*ShortcutConn
}

func InitShortcut() *shortcut {
	if Shortcut == nil {
		Shortcut = &shortcut{
			ports: make(map[string]*ShortcutConn),
		}
	}
	return Shortcut
}

// Prepare registers n mock pipes under addr, reusing an existing entry.
func (s *shortcut) Prepare(addr string, n int) *ShortcutConn {
	if n < 1 {
		n = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, existed := s.ports[addr]
	if !existed {
		conn = NewShortcutConn(addr, n)
		s.ports[addr] = conn
	}
	return conn
}

func (s *shortcut) GetConn(address string) (*ShortcutConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, existed := s.ports[address]
	return conn, existed
}

func (s *shortcut) Invalidate(conn *ShortcutConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ports, conn.Address)
}

// MockConn one mock pipe. Client and Server are both net.Conn.
type MockConn struct {
	*mock.Conn
	parent *ShortcutConn
	idx    int
}

func NewMockConn(scn *ShortcutConn, idx int) *MockConn {
	return &MockConn{
		Conn:   mock.NewConn(),
		parent: scn,
		idx:    idx,
	}
}

func (c *MockConn) String() string {
	return fmt.Sprintf("%s[%d]", c.parent.Address, c.idx)
}

func (c *MockConn) Close() error {
	return c.parent.close(c.idx, c)
}

// ShortcutConn the set of pipes registered under one address.
type ShortcutConn struct {
	Conns   []*MockConn
	Address string
}

func NewShortcutConn(addr string, n int) *ShortcutConn {
	return &ShortcutConn{
		Address: addr,
		Conns:   make([]*MockConn, n),
	}
}

// Validate lazily (re)creates the pipes at the given indices, or all.
func (cn *ShortcutConn) Validate(idxes ...int) *ShortcutConn {
	if len(idxes) == 0 {
		for i, conn := range cn.Conns {
			cn.validate(i, conn)
		}
	} else {
		for _, i := range idxes {
			cn.validate(i, cn.Conns[i])
		}
	}
	return cn
}

func (cn *ShortcutConn) Close(idxes ...int) {
	if len(idxes) == 0 {
		for i, conn := range cn.Conns {
			cn.close(i, conn)
		}
	} else {
		for _, i := range idxes {
			cn.close(i, cn.Conns[i])
		}
	}
}

func (cn *ShortcutConn) validate(i int, conn *MockConn) {
	if conn == nil {
		cn.Conns[i] = NewMockConn(cn, i)
	}
}

func (cn *ShortcutConn) close(i int, conn *MockConn) error {
	if conn != nil {
		cn.Conns[i] = nil
		return conn.Conn.Close()
	}
	return nil
}
