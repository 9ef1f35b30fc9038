package partition

import (
	"bufio"
	"container/list"
	"fmt"
	"os"
)

type handle struct {
	key  string
	path string
	f    *os.File
	w    *bufio.Writer
}

func (h *handle) close() error {
	if err := h.w.Flush(); err != nil {
		h.f.Close()
		return fmt.Errorf("flush %s: %w", h.path, err)
	}
	return h.f.Close()
}

// handlePool keeps at most size files open, evicting the least recently used.
// An evicted file is flushed and closed; the next write reopens it for append.
type handlePool struct {
	size  int
	order *list.List // front = most recent
	open  map[string]*list.Element

	opens     int
	evictions int
}

func newHandlePool(size int) *handlePool {
	if size < 1 {
		size = 1
	}
	return &handlePool{size: size, order: list.New(), open: make(map[string]*list.Element)}
}

// get returns a writer for key, opening path for append if needed.
func (p *handlePool) get(key, path string) (*bufio.Writer, error) {
	if el, ok := p.open[key]; ok {
		p.order.MoveToFront(el)
		return el.Value.(*handle).w, nil
	}
	if p.order.Len() >= p.size {
		if err := p.evict(); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", path, err)
	}
	p.opens++
	h := &handle{key: key, path: path, f: f, w: bufio.NewWriterSize(f, 32<<10)}
	p.open[key] = p.order.PushFront(h)
	return h.w, nil
}

func (p *handlePool) evict() error {
	el := p.order.Back()
	if el == nil {
		return nil
	}
	h := p.order.Remove(el).(*handle)
	delete(p.open, h.key)
	p.evictions++
	return h.close()
}

// closeAll flushes and closes every open handle, returning the first error.
func (p *handlePool) closeAll() error {
	var first error
	for el := p.order.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*handle).close(); err != nil && first == nil {
			first = err
		}
	}
	p.order.Init()
	p.open = make(map[string]*list.Element)
	return first
}
