package sitemap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"catalogsync/internal/catalog"

	"github.com/klauspost/compress/gzip"
)

type urlEntry struct {
	Loc      string `xml:"loc"`
	LastMod  string `xml:"lastmod"`
	Category string `xml:"category"`
}

type urlset struct {
	URLs []urlEntry `xml:"url"`
}

type sitemapRef struct {
	Loc string `xml:"loc"`
}

type sitemapIndex struct {
	Sitemaps []sitemapRef `xml:"sitemap"`
}

// document is either a urlset or a sitemap index, never both.
type document struct {
	urls     []urlEntry
	children []string
}

var gzipMagic = []byte{0x1f, 0x8b}

// decompress returns the body as is unless it starts with the gzip magic,
// servers are inconsistent about Content-Encoding for .xml.gz files.
func decompress(body []byte) ([]byte, error) {
	if !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}
	reader, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", catalog.ErrSitemapMalformed, err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", catalog.ErrSitemapMalformed, err)
	}
	return out, nil
}

func parseDocument(body []byte) (document, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return document{}, fmt.Errorf("%w: no root element", catalog.ErrSitemapMalformed)
		}
		if err != nil {
			return document{}, fmt.Errorf("%w: %v", catalog.ErrSitemapMalformed, err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "urlset":
			var set urlset
			err = decoder.DecodeElement(&set, &start)
			if err != nil {
				return document{}, fmt.Errorf("%w: %v", catalog.ErrSitemapMalformed, err)
			}
			return document{urls: set.URLs}, nil
		case "sitemapindex":
			var index sitemapIndex
			err = decoder.DecodeElement(&index, &start)
			if err != nil {
				return document{}, fmt.Errorf("%w: %v", catalog.ErrSitemapMalformed, err)
			}
			var children []string
			for _, ref := range index.Sitemaps {
				loc := strings.TrimSpace(ref.Loc)
				if loc == "" {
					return document{}, fmt.Errorf("%w: sitemap index entry without loc", catalog.ErrSitemapMalformed)
				}
				children = append(children, loc)
			}
			return document{children: children}, nil
		default:
			return document{}, fmt.Errorf("%w: unknown root element <%s>", catalog.ErrSitemapMalformed, start.Name.Local)
		}
	}
}

var lastmodLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// ParseLastMod parses the W3C datetime forms allowed in sitemaps, values
// without a zone are taken as UTC.
func ParseLastMod(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range lastmodLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid lastmod %q", catalog.ErrSitemapMalformed, value)
}
