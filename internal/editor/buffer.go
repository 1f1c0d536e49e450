package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kiritara/api/internal/content"
)

var (
	ErrNotEditable    = errors.New("field is not editable")
	ErrUnknownSection = errors.New("section has no draft value")
)

// Committer writes one whole section back to the store.
type Committer interface {
	Update(ctx context.Context, key string, value any) error
}

// Buffer is a private working copy of the content mapping. Edits stay local
// until Save writes the enclosing section.
type Buffer struct {
	mu   sync.Mutex
	data map[string]any
}

// NewBuffer seeds a buffer with the default copy, overlaid section by
// section with saved.
func NewBuffer(saved map[string]any) *Buffer {
	data := DefaultContent()
	for k, v := range saved {
		data[k] = content.DeepCopy(v)
	}
	return &Buffer{data: data}
}

func (b *Buffer) Get(path string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return GetPath(b.data, path)
}

func (b *Buffer) Set(path, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = SetPath(b.data, path, value)
}

func (b *Buffer) Fields() []Field {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Fields(b.data)
}

// Save commits the section that path belongs to. Sibling fields of the
// section go along with it; other sections are untouched.
func (b *Buffer) Save(ctx context.Context, committer Committer, path string) error {
	section := Section(path)
	b.mu.Lock()
	value, ok := b.data[section]
	if ok {
		value = content.DeepCopy(value)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSection, section)
	}
	return committer.Update(ctx, section, value)
}
