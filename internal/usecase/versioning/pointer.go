package versioning

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"setupwiz/internal/domain"
)

// Pointer is the local durable record of the most recent checkpoint id.
// It is a cache: the authority's list stays the source of truth.
type Pointer struct {
	path string

	mu sync.RWMutex
	id string
}

// OpenPointer reads the pointer file at path. A missing file yields an
// empty pointer.
func OpenPointer(path string) (*Pointer, error) {
	p := &Pointer{path: path}
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, domain.WrapOp("pointer: read", err)
	}
	p.id = strings.TrimSpace(string(data))
	return p, nil
}

// ID returns the cached checkpoint id, "" when none was recorded.
func (p *Pointer) ID() string {
	if p == nil {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

// Set records id atomically.
func (p *Pointer) Set(id string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path != "" {
		if err := writeAtomic(p.path, []byte(id+"\n")); err != nil {
			return err
		}
	}
	p.id = id
	return nil
}

// Clear removes the pointer file.
func (p *Pointer) Clear() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = ""
	if p.path == "" {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return domain.WrapOp("pointer: remove", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("pointer: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return domain.WrapOp("pointer: write", err)
	}
	return os.Rename(tmp, path)
}
