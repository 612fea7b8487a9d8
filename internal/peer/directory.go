package peer

import (
	"errors"
	"sync"

	"supernode/internal/crypto"
)

var ErrNotConnected = errors.New("peer not connected")

// Directory maps producer addresses to the current SuperNode for each.
// Entries are replaced whole; a session bound to a superseded entry keeps
// running on that entry until it closes.
type Directory struct {
	m sync.Map
}

func NewDirectory() *Directory {
	return &Directory{}
}

func (d *Directory) Get(addr crypto.Address) (*SuperNode, bool) {
	v, ok := d.m.Load(addr)
	if !ok {
		return nil, false
	}
	return v.(*SuperNode), true
}

func (d *Directory) Set(addr crypto.Address, p *SuperNode) {
	d.m.Store(addr, p)
}

// CompareAndSwap installs next if the entry for addr is still old. A nil old
// means the address must be absent.
func (d *Directory) CompareAndSwap(addr crypto.Address, old, next *SuperNode) bool {
	if old == nil {
		_, loaded := d.m.LoadOrStore(addr, next)
		return !loaded
	}
	return d.m.CompareAndSwap(addr, old, next)
}

func (d *Directory) Range(fn func(crypto.Address, *SuperNode) bool) {
	d.m.Range(func(k, v any) bool {
		return fn(k.(crypto.Address), v.(*SuperNode))
	})
}

func (d *Directory) Len() int {
	n := 0
	d.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
