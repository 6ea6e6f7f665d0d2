// Package outlink extracts outbound links from fetched HTML. It is not
// wired into the core fetch loop; it exists so a downstream consumer of
// fetchcore.FetchedDatum can turn fetched HTML bodies back into new
// UrlDatum values to feed back into a crawl.
package outlink

import (
	"bytes"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/codepr/fetchcore"
)

// Extractor pulls outbound links from fetched HTML, deduplicating
// against links it has already returned and skipping excluded file
// extensions.
type Extractor struct {
	excludedExts map[string]bool

	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an Extractor with no excluded extensions.
func New() *Extractor {
	return &Extractor{
		excludedExts: make(map[string]bool),
		seen:         make(map[string]struct{}),
	}
}

// ExcludeExtensions adds file extensions (e.g. ".pdf") that anchors and
// canonical links should be skipped for.
func (e *Extractor) ExcludeExtensions(exts ...string) {
	for _, ext := range exts {
		e.excludedExts[ext] = true
	}
}

// Extract parses d.Content as HTML relative to d.URL and returns one
// UrlDatum per newly discovered, not-yet-seen outbound link, carrying a
// clone of d.Metadata forward so provenance survives the hop.
func (e *Extractor) Extract(d fetchcore.FetchedDatum) ([]fetchcore.UrlDatum, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(d.Content))
	if err != nil {
		return nil, err
	}
	links := e.extractLinks(doc, d.URL)

	out := make([]fetchcore.UrlDatum, 0, len(links))
	for _, link := range links {
		out = append(out, fetchcore.UrlDatum{
			URL:      link.String(),
			Metadata: d.Metadata.Clone(),
		})
	}
	return out, nil
}

// candidateSelectors are the CSS selectors matching link-bearing elements:
// anchors and canonical link tags, both requiring an href.
var candidateSelectors = []string{"a[href]", "link[rel=\"canonical\"][href]"}

func (e *Extractor) extractLinks(doc *goquery.Document, baseURL string) []*url.URL {
	if doc == nil {
		return nil
	}

	var hrefs []string
	for _, sel := range candidateSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			if href != "" && !e.excludedExts[filepath.Ext(href)] {
				hrefs = append(hrefs, href)
			}
		})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*url.URL, 0, len(hrefs))
	for _, href := range hrefs {
		link, ok := resolveRelativeURL(baseURL, href)
		if !ok {
			continue
		}
		key := link.String()
		if _, dup := e.seen[key]; dup {
			continue
		}
		e.seen[key] = struct{}{}
		out = append(out, link)
	}
	return out
}

// resolveRelativeURL resolves href against baseURL. An already-absolute
// href is returned as-is.
func resolveRelativeURL(baseURL, href string) (*url.URL, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	if ref.IsAbs() {
		return ref, true
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, false
	}
	return base.ResolveReference(ref), true
}
