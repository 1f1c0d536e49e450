package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"kiritara/api/internal/content"
	"kiritara/api/internal/gallery"
)

// ErrUnavailable is returned when no backend could answer.
var ErrUnavailable = errors.New("search unavailable")

const (
	defaultLimit = 20
	maxLimit     = 50
)

// Indexer keeps an external index in step with the live site.
type Indexer interface {
	ReplaceContent(records []ContentRecord) error
	ReplaceImages(records []ImageRecord) error
	Healthy() bool
}

// Service tries the primary backend first and falls back to the secondary.
// Either may be nil.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher

	// One worker applies index snapshots in the order they were published.
	// Each kind keeps only the latest snapshot not yet applied.
	mu          sync.Mutex
	nextContent []ContentRecord
	nextImages  []ImageRecord
	hasContent  bool
	hasImages   bool
	lastContent []ContentRecord
	lastImages  []ImageRecord
	wake        chan struct{}
	done        chan struct{}
	startOnce   sync.Once
	closeOnce   sync.Once
}

// NewService wires the Meilisearch backend (nil when not configured) and the
// Postgres fallback.
func NewService(m *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if m != nil {
		s.primary = m
		s.indexer = m
		m.OnRecover(s.replay)
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	switch {
	case q.Limit <= 0:
		q.Limit = defaultLimit
	case q.Limit > maxLimit:
		q.Limit = maxLimit
	}
	q.Offset = max(q.Offset, 0)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}, nil
	}

	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
		}
		slog.Warn("meilisearch error, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{}, ErrUnavailable
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slog.Error("pgfts search", "error", err)
		return Response{}, errors.Join(ErrUnavailable, err)
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
}

// IndexContent queues a content snapshot for the index. A snapshot still
// waiting when a newer one arrives is dropped.
func (s *Service) IndexContent(m content.Mapping) {
	if s.indexer == nil {
		return
	}
	records := ContentRecords(m)
	s.mu.Lock()
	s.nextContent, s.hasContent = records, true
	s.lastContent = records
	s.mu.Unlock()
	s.signal()
}

// IndexGallery queues the active gallery for the index, like IndexContent.
func (s *Service) IndexGallery(images []gallery.Image) {
	if s.indexer == nil {
		return
	}
	records := ImageRecords(images)
	s.mu.Lock()
	s.nextImages, s.hasImages = records, true
	s.lastImages = records
	s.mu.Unlock()
	s.signal()
}

// Close stops the indexing worker. Queued snapshots are discarded.
func (s *Service) Close() {
	s.init()
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Service) init() {
	s.startOnce.Do(func() {
		s.wake = make(chan struct{}, 1)
		s.done = make(chan struct{})
		go s.indexLoop()
	})
}

// replay queues the latest snapshots again, for an index that was
// unreachable when they were published.
func (s *Service) replay() {
	s.mu.Lock()
	if s.lastContent != nil && !s.hasContent {
		s.nextContent, s.hasContent = s.lastContent, true
	}
	if s.lastImages != nil && !s.hasImages {
		s.nextImages, s.hasImages = s.lastImages, true
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Service) signal() {
	s.init()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) indexLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.applyPending()
		}
	}
}

func (s *Service) applyPending() {
	s.mu.Lock()
	contentRecords, hasContent := s.nextContent, s.hasContent
	imageRecords, hasImages := s.nextImages, s.hasImages
	s.nextContent, s.hasContent = nil, false
	s.nextImages, s.hasImages = nil, false
	s.mu.Unlock()

	if !s.indexer.Healthy() {
		// replay requeues the latest snapshots on recovery.
		return
	}
	if hasContent {
		if err := s.indexer.ReplaceContent(contentRecords); err != nil {
			slog.Warn("index site content", "error", err)
		}
	}
	if hasImages {
		if err := s.indexer.ReplaceImages(imageRecords); err != nil {
			slog.Warn("index gallery", "error", err)
		}
	}
}

// ContentRecords flattens each section of m into one record, in key order.
func ContentRecords(m content.Mapping) []ContentRecord {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]ContentRecord, 0, len(keys))
	for _, key := range keys {
		record := ContentRecord{ID: key}
		if section, ok := m[key].(map[string]any); ok {
			record.Title, _ = section["title"].(string)
			record.Subtitle, _ = section["subtitle"].(string)
		}
		var parts []string
		collectText(m[key], &parts)
		record.Body = strings.Join(parts, "\n")
		records = append(records, record)
	}
	return records
}

func ImageRecords(images []gallery.Image) []ImageRecord {
	records := make([]ImageRecord, 0, len(images))
	for _, img := range images {
		record := ImageRecord{
			ID:        img.ID,
			Title:     img.Title,
			ImageURL:  img.ImageURL,
			SortOrder: img.SortOrder,
		}
		if img.Description != nil {
			record.Description = *img.Description
		}
		records = append(records, record)
	}
	return records
}

func collectText(value any, parts *[]string) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			*parts = append(*parts, v)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(v[k], parts)
		}
	case []any:
		for _, item := range v {
			collectText(item, parts)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
