package editor

import (
	"context"
	"fmt"
	"sync"

	"kiritara/api/internal/content"
)

// Source is the live content the workspace seeds drafts from and saves to.
type Source interface {
	Snapshot() content.Mapping
	Committer
}

// Workspace holds one draft buffer per admin, created on first use from the
// live mapping.
type Workspace struct {
	source Source

	mu      sync.Mutex
	buffers map[string]*Buffer
}

func NewWorkspace(source Source) *Workspace {
	return &Workspace{source: source, buffers: map[string]*Buffer{}}
}

func (w *Workspace) Buffer(userID string) *Buffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf, ok := w.buffers[userID]
	if !ok {
		buf = NewBuffer(w.source.Snapshot())
		w.buffers[userID] = buf
	}
	return buf
}

func (w *Workspace) Fields(userID string) []Field {
	return w.Buffer(userID).Fields()
}

func (w *Workspace) Set(userID, path, value string) error {
	if !IsEditable(path) {
		return fmt.Errorf("%w: %s", ErrNotEditable, path)
	}
	w.Buffer(userID).Set(path, value)
	return nil
}

func (w *Workspace) Save(ctx context.Context, userID, path string) error {
	if !IsEditable(path) {
		return fmt.Errorf("%w: %s", ErrNotEditable, path)
	}
	return w.Buffer(userID).Save(ctx, w.source, path)
}

// Reset drops the admin's draft so the next access reseeds from live content.
func (w *Workspace) Reset(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.buffers, userID)
}
