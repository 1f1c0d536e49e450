package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxContent = "kiritara_content"
	idxImages  = "kiritara_gallery"
)

// documents is the write side of the indexes.
type documents interface {
	add(uid string, docs any) error
	remove(uid, id string) error
	reset(uid string) error
}

type meiliDocuments struct {
	client meili.ServiceManager
}

func (d meiliDocuments) add(uid string, docs any) error {
	_, err := d.client.Index(uid).AddDocuments(docs, nil)
	return err
}

func (d meiliDocuments) remove(uid, id string) error {
	_, err := d.client.Index(uid).DeleteDocument(id, nil)
	return err
}

func (d meiliDocuments) reset(uid string) error {
	_, err := d.client.Index(uid).DeleteAllDocuments(nil)
	return err
}

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	docs    documents
	healthy atomic.Bool
	done    chan struct{}

	// indexed holds the ids written per index since the last reset. An index
	// missing here is reset before its next write.
	mu      sync.Mutex
	indexed map[string]map[string]struct{}

	hookMu    sync.Mutex
	onRecover func()
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is logged; the health loop picks it up later.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client:  client,
		docs:    meiliDocuments{client: client},
		done:    make(chan struct{}),
		indexed: map[string]map[string]struct{}{},
	}

	if _, err := client.Health(); err != nil {
		slog.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{uid: idxContent, searchable: []string{"title", "subtitle", "body"}},
		{uid: idxImages, filterable: []string{"sortOrder"}, searchable: []string{"title", "description"}},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			slog.Debug("create search index", "index", idx.uid, "error", err)
		}

		index := m.client.Index(idx.uid)
		if len(idx.filterable) > 0 {
			filterable := make([]interface{}, len(idx.filterable))
			for i, v := range idx.filterable {
				filterable[i] = v
			}
			if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
				slog.Warn("update filterable attributes", "index", idx.uid, "error", err)
			}
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			slog.Warn("update searchable attributes", "index", idx.uid, "error", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				slog.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
				m.forget()
				m.hookMu.Lock()
				fn := m.onRecover
				m.hookMu.Unlock()
				if fn != nil {
					fn()
				}
			}
		}
	}
}

// OnRecover registers fn to run after the server comes back from an outage.
func (m *Meili) OnRecover(fn func()) {
	m.hookMu.Lock()
	m.onRecover = fn
	m.hookMu.Unlock()
}

// forget drops what is known about index contents, so each index is rebuilt
// from the next snapshot.
func (m *Meili) forget() {
	m.mu.Lock()
	m.indexed = map[string]map[string]struct{}{}
	m.mu.Unlock()
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or the filtered one) and merges the hits.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, target := range []struct {
		uid  string
		rtyp ResultType
	}{
		{idxContent, ResultContent},
		{idxImages, ResultImage},
	} {
		if q.FilterType != "" && q.FilterType != target.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		})
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

// ReplaceContent makes the content index hold exactly records.
func (m *Meili) ReplaceContent(records []ContentRecord) error {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return m.replace(idxContent, records, ids)
}

// ReplaceImages makes the gallery index hold exactly records.
func (m *Meili) ReplaceImages(records []ImageRecord) error {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return m.replace(idxImages, records, ids)
}

func (m *Meili) replace(uid string, docs any, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	known, tracked := m.indexed[uid]
	if !tracked {
		// After a restart or an outage the index may hold documents this
		// process never saw; rebuild it.
		if err := m.docs.reset(uid); err != nil {
			return fmt.Errorf("reset %s: %w", uid, err)
		}
	}
	if len(ids) > 0 {
		if err := m.docs.add(uid, docs); err != nil {
			delete(m.indexed, uid)
			return fmt.Errorf("index %s: %w", uid, err)
		}
	}

	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	for id := range known {
		if _, keep := next[id]; keep {
			continue
		}
		if err := m.docs.remove(uid, id); err != nil {
			delete(m.indexed, uid)
			return fmt.Errorf("drop %s from %s: %w", id, uid, err)
		}
	}
	m.indexed[uid] = next
	return nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxContent:
		return ResultContent
	case idxImages:
		return ResultImage
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp, ID: decodeString(hit, "id")}
	switch rtyp {
	case ResultContent:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"), r.ID)
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "subtitle"), decodeString(hit, "subtitle"))
	case ResultImage:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
		r.ImageURL = decodeString(hit, "imageUrl")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
