package transport

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// memWindow is one mmap-backed window's local bytes, guarded by its own
// mutex so WinLock/WinUnlock bracket a real critical section (spec
// §4.1) rather than being a no-op.
type memWindow struct {
	mu  sync.Mutex
	mem []byte
}

// MemWindows is the mmap-backed window table shared by the local and
// tcpb backends: every image, regardless of transport, owns exactly its
// own slice of a coarray segment's bytes (spec §3's remote_bases[this_image]
// == local_base invariant), addressed here by an auto-incrementing id
// that stays in sync across images because win_create is only ever
// called collectively, in matching order (by register(), spec §4.2, and
// by syncp's bring-up of its status and arrivals windows).
type MemWindows struct {
	mu     sync.Mutex
	table  map[Window]*memWindow
	nextID Window
}

func NewMemWindows() *MemWindows {
	return &MemWindows{table: make(map[Window]*memWindow)}
}

func (t *MemWindows) Create(bytes int) (Window, error) {
	if bytes <= 0 {
		bytes = 1
	}
	mem, err := unix.Mmap(-1, 0, bytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("mmap %d bytes: %w", bytes, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.table[id] = &memWindow{mem: mem}
	return id, nil
}

func (t *MemWindows) Free(w Window) error {
	t.mu.Lock()
	win, ok := t.table[w]
	if ok {
		delete(t.table, w)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("free of unknown window %d", w)
	}
	return unix.Munmap(win.mem)
}

func (t *MemWindows) get(w Window) (*memWindow, error) {
	t.mu.Lock()
	win, ok := t.table[w]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown window %d", w)
	}
	return win, nil
}

func (t *MemWindows) Lock(w Window) error {
	win, err := t.get(w)
	if err != nil {
		return err
	}
	win.mu.Lock()
	return nil
}

func (t *MemWindows) Unlock(w Window) error {
	win, err := t.get(w)
	if err != nil {
		return err
	}
	win.mu.Unlock()
	return nil
}

// WithLocked runs fn with the window's bytes and mutex held, bounds
// checking [offset, offset+len(buf)) first.
func (t *MemWindows) WithLocked(w Window, offset int64, n int, fn func(mem []byte) error) error {
	win, err := t.get(w)
	if err != nil {
		return err
	}
	win.mu.Lock()
	defer win.mu.Unlock()
	if offset < 0 || offset+int64(n) > int64(len(win.mem)) {
		return fmt.Errorf("window %d: access out of bounds (offset %d, len %d, size %d)", w, offset, n, len(win.mem))
	}
	return fn(win.mem[offset : offset+int64(n)])
}

// Close releases every window in the table, used by Finalize.
func (t *MemWindows) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, w := range t.table {
		_ = unix.Munmap(w.mem)
		delete(t.table, id)
	}
}
