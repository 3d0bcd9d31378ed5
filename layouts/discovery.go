// Package layouts finds layout files, on disk or behind an HTML index page,
// and parses them into maze layouts.
package layouts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/brensch/capture/logging"
	"github.com/brensch/capture/maze"
)

// Config holds discovery worker configuration
type Config struct {
	IndexURLs    []string      // Index pages listing .lay files
	RequestDelay time.Duration // Delay between HTTP requests to be polite
	MaxLayouts   int           // Maximum layouts to fetch per index (0 = unlimited)
	UserAgent    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestDelay: 200 * time.Millisecond,
		UserAgent:    "capture-layouts/1.0",
	}
}

// Worker discovers and downloads layouts from HTML index pages.
type Worker struct {
	config Config
	client *http.Client
	log    *slog.Logger

	knownMu sync.RWMutex
	known   map[string]bool
}

// NewWorker creates a discovery worker. Layout names in existing are skipped.
func NewWorker(config Config, logger *slog.Logger, existing []string) *Worker {
	if logger == nil {
		logger = logging.Discard()
	}
	known := make(map[string]bool, len(existing))
	for _, n := range existing {
		known[n] = true
	}
	return &Worker{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger,
		known:  known,
	}
}

// Discover crawls every index page and returns the new layouts it could
// fetch and parse. Broken layouts are logged and skipped.
func (w *Worker) Discover(ctx context.Context) ([]*maze.Layout, error) {
	var out []*maze.Layout
	for _, indexURL := range w.config.IndexURLs {
		links, err := w.Links(ctx, indexURL)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			w.log.Warn("index fetch failed", "url", indexURL, "error", err)
			continue
		}
		w.log.Info("index scanned", "url", indexURL, "links", len(links))

		if w.config.MaxLayouts > 0 && len(links) > w.config.MaxLayouts {
			links = links[:w.config.MaxLayouts]
		}

		fetched := 0
		for _, link := range links {
			name := NameFromURL(link)
			w.knownMu.RLock()
			known := w.known[name]
			w.knownMu.RUnlock()
			if known {
				continue
			}

			l, err := w.Fetch(ctx, link)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				w.log.Warn("layout skipped", "url", link, "error", err)
				continue
			}
			w.knownMu.Lock()
			w.known[name] = true
			w.knownMu.Unlock()
			out = append(out, l)
			fetched++

			// Rate limiting
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(w.config.RequestDelay):
			}
		}
		w.log.Info("index done", "url", indexURL, "new", fetched)
	}
	return out, nil
}

func (w *Worker) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if w.config.UserAgent != "" {
		req.Header.Set("User-Agent", w.config.UserAgent)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp, nil
}

// Links returns the absolute URLs of every .lay file linked from indexURL,
// in page order without duplicates.
func (w *Worker) Links(ctx context.Context, indexURL string) ([]string, error) {
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, err
	}
	resp, err := w.get(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || !strings.HasSuffix(ref.Path, ".lay") {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})
	return links, nil
}

// Fetch downloads and parses one layout file.
func (w *Worker) Fetch(ctx context.Context, layoutURL string) (*maze.Layout, error) {
	resp, err := w.get(ctx, layoutURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	l, err := maze.Parse(NameFromURL(layoutURL), string(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", layoutURL, err)
	}
	return l, nil
}

// NameFromURL is the file name without the .lay extension.
func NameFromURL(u string) string {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.Path
	}
	return strings.TrimSuffix(path.Base(p), ".lay")
}
