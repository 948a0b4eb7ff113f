// Package sitemap renders sitemap.xml for the static pages and the published catalog.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"golang.org/x/sync/errgroup"
)

const xmlns = "http://www.sitemaps.org/schemas/sitemap/0.9"

const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

var entryFields = []string{"id", "title", "date_updated"}

// URL is one <url> element.
type URL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// URLSet is the document root.
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []URL    `xml:"url"`
}

type staticPage struct {
	path       string
	changeFreq string
	priority   string
}

var staticPages = []staticPage{
	{"/", Daily, "1.0"},
	{"/catalog", Daily, "0.9"},
	{"/about", Monthly, "0.7"},
	{"/policy", Monthly, "0.5"},
}

// section maps a catalog collection onto a URL prefix.
type section struct {
	collection string
	prefix     string
	priority   string
	filter     clients.Filter
}

var sections = []section{
	{models.CollectionProducts, "/product/", "0.8", clients.Eq("status", "published")},
	{models.CollectionTypes, "/type/", "0.6", nil},
	{models.CollectionModels, "/model/", "0.6", nil},
}

// Stats counts the URLs emitted per kind.
type Stats struct {
	Static   int
	Products int
	Types    int
	Models   int
}

func (s Stats) Total() int {
	return s.Static + s.Products + s.Types + s.Models
}

type Generator struct {
	store   clients.ItemStore
	baseURL string
	logger  *logging.LoggerV2
	now     func() time.Time
}

func NewGenerator(store clients.ItemStore, baseURL string, logger *logging.LoggerV2) *Generator {
	return &Generator{
		store:   store,
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
}

// Build reads the catalog collections concurrently and assembles the URL set.
// Any failed read fails the whole build.
func (g *Generator) Build(ctx context.Context) (*URLSet, Stats, error) {
	entries := make([][]models.CatalogEntry, len(sections))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, sec := range sections {
		i, sec := i, sec
		eg.Go(func() error {
			records, err := g.store.List(egCtx, sec.collection, clients.Query{
				Filter: sec.filter,
				Fields: entryFields,
				Limit:  -1,
			})
			if err != nil {
				return fmt.Errorf("read %s: %w", sec.collection, err)
			}
			decoded, err := clients.DecodeAll[models.CatalogEntry](records)
			if err != nil {
				return fmt.Errorf("decode %s: %w", sec.collection, err)
			}
			entries[i] = decoded
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, Stats{}, err
	}

	now := g.now()
	set := &URLSet{Xmlns: xmlns}
	for _, p := range staticPages {
		set.URLs = append(set.URLs, URL{
			Loc:        g.baseURL + p.path,
			LastMod:    formatDate(now),
			ChangeFreq: p.changeFreq,
			Priority:   p.priority,
		})
	}

	for i, sec := range sections {
		for _, e := range entries[i] {
			lastMod := now
			if !e.DateUpdated.IsZero() {
				lastMod = e.DateUpdated.Time
			}
			set.URLs = append(set.URLs, URL{
				Loc:        g.baseURL + sec.prefix + Slug(e.Title, e.ID),
				LastMod:    formatDate(lastMod),
				ChangeFreq: Weekly,
				Priority:   sec.priority,
			})
		}
	}

	stats := Stats{
		Static:   len(staticPages),
		Products: len(entries[0]),
		Types:    len(entries[1]),
		Models:   len(entries[2]),
	}
	g.logger.Info("Sitemap built", logging.Fields{
		"total":    stats.Total(),
		"products": stats.Products,
		"types":    stats.Types,
		"models":   stats.Models,
	})

	return set, stats, nil
}

// Write encodes the URL set with an XML declaration.
func Write(w io.Writer, set *URLSet) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
