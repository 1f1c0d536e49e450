// Package sweep removes gallery blobs that no image row points at. They are
// left behind when an upload succeeds but the row insert or update after it
// fails.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"kiritara/api/internal/blob"
)

type Blobs interface {
	List(ctx context.Context, prefix string) ([]blob.Object, error)
	Remove(ctx context.Context, objectPath string) error
	PathFromURL(publicURL string) (string, bool)
}

// URLSource lists every image_url in the gallery table, active or not.
type URLSource interface {
	ListImageURLs(ctx context.Context) ([]string, error)
}

type Options struct {
	// Grace protects blobs younger than this; an upload may still be
	// waiting for its row.
	Grace  time.Duration
	DryRun bool
}

type Report struct {
	Scanned    int      `json:"scanned"`
	Referenced int      `json:"referenced"`
	TooRecent  int      `json:"too_recent"`
	Orphans    []string `json:"orphans"`
	Removed    []string `json:"removed"`
}

type Sweeper struct {
	blobs Blobs
	urls  URLSource
	now   func() time.Time
}

func New(blobs Blobs, urls URLSource) *Sweeper {
	return &Sweeper{blobs: blobs, urls: urls, now: time.Now}
}

// Run lists the gallery prefix and removes every unreferenced blob older than
// the grace period. Removal errors are collected; the sweep carries on past
// them.
func (s *Sweeper) Run(ctx context.Context, opts Options) (Report, error) {
	report := Report{Orphans: []string{}, Removed: []string{}}

	urls, err := s.urls.ListImageURLs(ctx)
	if err != nil {
		return report, fmt.Errorf("list image urls: %w", err)
	}
	referenced := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if p, ok := s.blobs.PathFromURL(u); ok {
			referenced[p] = struct{}{}
		}
	}

	objects, err := s.blobs.List(ctx, blob.GalleryPrefix)
	if err != nil {
		return report, fmt.Errorf("list blobs: %w", err)
	}

	cutoff := s.now().Add(-opts.Grace)
	var result *multierror.Error
	for _, obj := range objects {
		report.Scanned++
		if _, ok := referenced[obj.Path]; ok {
			report.Referenced++
			continue
		}
		if obj.LastModified.After(cutoff) {
			report.TooRecent++
			continue
		}
		report.Orphans = append(report.Orphans, obj.Path)
		if opts.DryRun {
			continue
		}
		if err := s.blobs.Remove(ctx, obj.Path); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		report.Removed = append(report.Removed, obj.Path)
	}

	slog.Info("gallery sweep finished",
		"scanned", report.Scanned,
		"orphans", len(report.Orphans),
		"removed", len(report.Removed),
		"dry_run", opts.DryRun,
	)
	return report, result.ErrorOrNil()
}
