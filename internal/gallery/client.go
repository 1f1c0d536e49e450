// Package gallery keeps the active gallery images in memory and handles
// uploads, edits and soft deletes.
package gallery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"kiritara/api/internal/auth"
	"kiritara/api/internal/blob"
	"kiritara/api/internal/notify"
	"kiritara/api/internal/store"
)

// ErrInvalid marks input rejected before any I/O.
var ErrInvalid = errors.New("invalid gallery input")

type Image struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	ImageURL    string    `json:"image_url"`
	SortOrder   int       `json:"sort_order"`
	IsActive    bool      `json:"is_active"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// File is an uploaded image body.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type AddInput struct {
	Title       string
	Description *string
	// SortOrder defaults to the number of active images when nil.
	SortOrder *int
}

// UpdateInput fields left nil keep their stored value.
type UpdateInput struct {
	Title       *string
	Description *string
	SortOrder   *int
}

type Store interface {
	ListActiveImages(ctx context.Context) ([]store.GalleryImage, error)
	CountActiveImages(ctx context.Context) (int, error)
	InsertImage(ctx context.Context, item store.GalleryImage) (store.GalleryImage, error)
	UpdateImage(ctx context.Context, id string, patch store.GalleryImagePatch, updatedBy string) (store.GalleryImage, error)
	DeactivateImage(ctx context.Context, id, updatedBy string) error
}

type BlobStore interface {
	Put(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) (string, error)
}

type Option func(*Client)

func WithUserResolver(resolve func(context.Context) (string, error)) Option {
	return func(c *Client) { c.currentUser = resolve }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRefreshHook registers fn to receive a copy of the list after each
// successful fetch.
func WithRefreshHook(fn func([]Image)) Option {
	return func(c *Client) { c.hooks = append(c.hooks, fn) }
}

type Client struct {
	store       Store
	blobs       BlobStore
	bus         notify.Bus
	currentUser func(context.Context) (string, error)
	now         func() time.Time
	hooks       []func([]Image)

	mu     sync.RWMutex
	images []Image
	loaded bool

	subMu sync.Mutex
	sub   notify.Subscription
}

func New(st Store, blobs BlobStore, bus notify.Bus, opts ...Option) *Client {
	c := &Client{
		store:       st,
		blobs:       blobs,
		bus:         bus,
		currentUser: auth.CurrentUserID,
		now:         time.Now,
		images:      []Image{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Start(ctx context.Context) error {
	if _, err := c.FetchActive(ctx); err != nil {
		slog.Warn("initial gallery fetch failed", "error", err)
	}
	if c.bus == nil {
		return nil
	}

	sub, err := c.bus.Subscribe(ctx, notify.GalleryImages, func(ctx context.Context) {
		if _, err := c.FetchActive(ctx); err != nil {
			slog.Warn("gallery refetch failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("watch gallery: %w", err)
	}
	c.subMu.Lock()
	c.sub = sub
	c.subMu.Unlock()
	return nil
}

func (c *Client) Close() error {
	c.subMu.Lock()
	sub := c.sub
	c.sub = nil
	c.subMu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

// FetchActive replaces the list with the active images in display order. On
// failure the previous list is kept.
func (c *Client) FetchActive(ctx context.Context) ([]Image, error) {
	rows, err := c.store.ListActiveImages(ctx)
	if err != nil {
		slog.Error("fetch gallery", "error", err)
		return nil, fmt.Errorf("%w: %w", store.ErrFetch, err)
	}

	next := make([]Image, 0, len(rows))
	for _, row := range rows {
		if !row.IsActive {
			continue
		}
		next = append(next, fromRow(row))
	}
	slices.SortStableFunc(next, func(a, b Image) int { return cmp.Compare(a.SortOrder, b.SortOrder) })

	c.mu.Lock()
	c.images = next
	c.loaded = true
	c.mu.Unlock()

	for _, fn := range c.hooks {
		fn(slices.Clone(next))
	}
	return slices.Clone(next), nil
}

// Images returns a copy of the current list.
func (c *Client) Images() []Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.images)
}

// Loaded reports whether at least one fetch has succeeded.
func (c *Client) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Add uploads file and inserts a new active image pointing at it. A failed
// upload inserts nothing. A failed insert after a good upload leaves the blob
// behind for the sweeper.
func (c *Client) Add(ctx context.Context, in AddInput, file *File) (Image, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Image{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if err := validateFile(file); err != nil {
		return Image{}, err
	}

	userID, err := c.currentUser(ctx)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", store.ErrWrite, err)
	}

	sortOrder := 0
	if in.SortOrder != nil {
		sortOrder = *in.SortOrder
	} else {
		count, err := c.store.CountActiveImages(ctx)
		if err != nil {
			return Image{}, fmt.Errorf("%w: %w", store.ErrFetch, err)
		}
		sortOrder = count
	}

	objectPath := blob.ObjectPath(file.Name, c.now())
	url, err := c.upload(ctx, objectPath, file)
	if err != nil {
		return Image{}, err
	}

	description := in.Description
	if description != nil && strings.TrimSpace(*description) == "" {
		description = nil
	}

	row, err := c.store.InsertImage(ctx, store.GalleryImage{
		Title:       title,
		Description: description,
		ImageURL:    url,
		SortOrder:   sortOrder,
		IsActive:    true,
		UpdatedBy:   userID,
	})
	if err != nil {
		slog.Error("insert gallery image", "object", objectPath, "error", err)
		return Image{}, fmt.Errorf("%w: %w", store.ErrWrite, err)
	}

	c.announce(ctx)
	return fromRow(row), nil
}

// Update patches the image with id. With a file, the new blob is uploaded
// first and a failed upload aborts the whole update.
func (c *Client) Update(ctx context.Context, id string, in UpdateInput, file *File) (Image, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return Image{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if file != nil {
		if err := validateFile(file); err != nil {
			return Image{}, err
		}
	}

	userID, err := c.currentUser(ctx)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", store.ErrWrite, err)
	}

	patch := store.GalleryImagePatch{
		Description: in.Description,
		SortOrder:   in.SortOrder,
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		patch.Title = &title
	}

	objectPath := ""
	if file != nil {
		objectPath = blob.ObjectPath(file.Name, c.now())
		url, err := c.upload(ctx, objectPath, file)
		if err != nil {
			return Image{}, err
		}
		patch.ImageURL = &url
	}

	row, err := c.store.UpdateImage(ctx, id, patch, userID)
	if err != nil {
		slog.Error("update gallery image", "id", id, "object", objectPath, "error", err)
		return Image{}, fmt.Errorf("%w: %w", store.ErrWrite, err)
	}

	c.announce(ctx)
	return fromRow(row), nil
}

// Delete hides the image. The row and its blob stay in place.
func (c *Client) Delete(ctx context.Context, id string) error {
	userID, err := c.currentUser(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrWrite, err)
	}
	if err := c.store.DeactivateImage(ctx, id, userID); err != nil {
		slog.Error("delete gallery image", "id", id, "error", err)
		return fmt.Errorf("%w: %w", store.ErrWrite, err)
	}
	c.announce(ctx)
	return nil
}

func (c *Client) upload(ctx context.Context, objectPath string, file *File) (string, error) {
	url, err := c.blobs.Put(ctx, objectPath, file.Body, file.Size, file.ContentType)
	if err != nil {
		slog.Error("upload gallery image", "object", objectPath, "error", err)
		if errors.Is(err, blob.ErrUpload) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", blob.ErrUpload, err)
	}
	return url, nil
}

func (c *Client) announce(ctx context.Context) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, notify.GalleryImages); err != nil {
		slog.Warn("announce gallery change", "error", err)
	}
}

func validateFile(file *File) error {
	if file == nil || file.Body == nil {
		return fmt.Errorf("%w: image file is required", ErrInvalid)
	}
	if !strings.HasPrefix(strings.ToLower(file.ContentType), "image/") {
		return fmt.Errorf("%w: %q is not an image type", ErrInvalid, file.ContentType)
	}
	return nil
}

func fromRow(row store.GalleryImage) Image {
	return Image{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		ImageURL:    row.ImageURL,
		SortOrder:   row.SortOrder,
		IsActive:    row.IsActive,
		UpdatedBy:   row.UpdatedBy,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
