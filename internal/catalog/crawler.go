package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/httpx"
	"github.com/nicferr/anacsync/internal/utils"
)

// Crawler walks the portal's paginated dataset listing and the dataset
// pages themselves, extracting resource links. It stops after a
// configured number of consecutive empty pages.
type Crawler struct {
	cfg    *config.Config
	client *httpx.Client
}

func NewCrawler(cfg *config.Config, client *httpx.Client) *Crawler {
	return &Crawler{cfg: cfg, client: client}
}

// Crawl paginates the listing, fetches each dataset page, and appends
// records to the catalog file. Returns the number of datasets recorded.
func (c *Crawler) Crawl(ctx context.Context) (int, error) {
	log := utils.GetLogger("crawler")
	emptyPages := 0
	page := c.cfg.Crawler.PageStart
	total := 0
	for emptyPages < c.cfg.Crawler.EmptyPageStopAfter {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		pageURL := fmt.Sprintf("%s/dataset?page=%d", strings.TrimRight(c.cfg.BaseURL, "/"), page)
		slugs, err := c.fetchListing(ctx, pageURL)
		if err != nil {
			return total, err
		}
		if len(slugs) == 0 {
			emptyPages++
			page++
			continue
		}
		emptyPages = 0
		log.Debug().Str("op", "catalog/crawler").Msgf("Page %d: %d datasets", page, len(slugs))
		for _, slug := range slugs {
			ds, err := c.fetchDataset(ctx, slug)
			if err != nil {
				log.Warn().Str("op", "catalog/crawler").Err(err).Msgf("Skipping dataset %s", slug)
				continue
			}
			if err := Append(c.cfg.StateDir, *ds); err != nil {
				return total, err
			}
			total++
		}
		page++
	}
	return total, nil
}

func (c *Crawler) fetchListing(ctx context.Context, pageURL string) ([]string, error) {
	root, err := c.fetchHTML(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var slugs []string
	walkLinks(root, func(href string) {
		const marker = "/dataset/"
		i := strings.Index(href, marker)
		if i < 0 {
			return
		}
		slug := strings.Trim(href[i+len(marker):], "/")
		if slug == "" || strings.ContainsAny(slug, "/?#") || seen[slug] {
			return
		}
		seen[slug] = true
		slugs = append(slugs, slug)
	})
	return slugs, nil
}

func (c *Crawler) fetchDataset(ctx context.Context, slug string) (*Dataset, error) {
	dsURL := fmt.Sprintf("%s/dataset/%s", strings.TrimRight(c.cfg.BaseURL, "/"), slug)
	root, err := c.fetchHTML(ctx, dsURL)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{Slug: slug, Title: pageTitle(root)}
	seen := make(map[string]bool)
	walkLinks(root, func(href string) {
		if !strings.Contains(href, "/download/") && !looksLikeFile(href) {
			return
		}
		abs := resolveURL(dsURL, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		name := abs[strings.LastIndex(abs, "/")+1:]
		ds.Resources = append(ds.Resources, Resource{Name: name, URL: abs, Format: formatOf(name)})
	})
	return ds, nil
}

func (c *Crawler) fetchHTML(ctx context.Context, pageURL string) (*html.Node, error) {
	if err := c.client.Throttle(ctx); err != nil {
		return nil, err
	}
	resp, err := c.client.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, pageURL)
	}
	return html.Parse(io.LimitReader(resp.Body, 8*1024*1024))
}

func walkLinks(n *html.Node, fn func(href string)) {
	if n.Type == html.ElementNode && n.Data == "a" {
		for _, attr := range n.Attr {
			if attr.Key == "href" && attr.Val != "" {
				fn(attr.Val)
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walkLinks(child, fn)
	}
}

func pageTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if t := pageTitle(child); t != "" {
			return t
		}
	}
	return ""
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(h).String()
}

var fileExtensions = []string{".json", ".csv", ".zip", ".xml", ".xlsx", ".ttl", ".rdf"}

func looksLikeFile(href string) bool {
	lower := strings.ToLower(href)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range fileExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func formatOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return strings.ToUpper(name[i+1:])
	}
	return ""
}
