package extractor

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"catalogsync/internal/catalog"
	"catalogsync/lib/htmlutil"
	"catalogsync/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("catalogsync/extractor")

// Default extracts product attributes from the shop's product page layout.
type Default struct{}

func (Default) ParseProductPage(ctx context.Context, html []byte, locator string) (catalog.Attributes, error) {
	_, span := tracer.Start(ctx, "ParseProductPage")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrUnparsablePage, err)
	}
	base, _ := url.Parse(locator)

	title := htmlutil.Text(doc.Find(".product--title").First())
	if title == "" {
		return nil, fmt.Errorf("%w: no product title", catalog.ErrUnparsablePage)
	}

	attrs := catalog.Attributes{
		"title": catalog.String(title),
	}
	setString(attrs, "sku", htmlutil.Text(doc.Find("[itemprop='sku']").First()))
	setString(attrs, "part_number", htmlutil.Text(doc.Find("[itemprop='tail_number']").First()))
	setString(attrs, "product_id", attr(doc.Find("meta[itemprop='productID']"), "content"))

	price, currency, err := parsePrice(doc)
	if err != nil {
		return nil, err
	}
	if price != nil {
		attrs["price"] = catalog.Number(*price)
	}
	setString(attrs, "currency", currency)

	parseAvailability(doc, attrs)
	parseMountingTime(doc, attrs)
	setList(attrs, "breadcrumbs", parseBreadcrumbs(doc))
	setList(attrs, "images", parseImages(doc))
	setList(attrs, "documents", parseDocuments(base, doc))
	setList(attrs, "variants", parseVariants(doc))
	setString(attrs, "description", parseDescription(doc))
	setString(attrs, "manufacturer_info", htmlutil.Text(doc.Find(".ac--questions__address").First()))

	err = attrs.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrUnparsablePage, err)
	}
	return attrs, nil
}

func attr(sel *goquery.Selection, name string) string {
	return strings.TrimSpace(sel.First().AttrOr(name, ""))
}

func setString(attrs catalog.Attributes, name, value string) {
	if value == "" {
		return
	}
	attrs[name] = catalog.String(value)
}

func setList(attrs catalog.Attributes, name string, values []string) {
	if len(values) == 0 {
		return
	}
	attrs[name] = catalog.List(values...)
}

// ParseAmount parses prices written either way round, "1.234,56" and
// "1,234.56" are both 1234.56. A lone separator followed by exactly three
// digits is a thousands separator.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, raw)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("no amount in %q", raw)
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = normalizeSingleSeparator(s, ",")
	case lastDot >= 0:
		s = normalizeSingleSeparator(s, ".")
	}
	return decimal.NewFromString(s)
}

func normalizeSingleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 || len(s)-strings.LastIndex(s, sep)-1 == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}

func parsePrice(doc *goquery.Document) (*float64, string, error) {
	raw := attr(doc.Find("meta[itemprop='price']"), "content")
	if raw == "" {
		raw = attr(doc.Find("meta[property='product:price']"), "content")
	}
	currency := attr(doc.Find("meta[itemprop='priceCurrency']"), "content")
	if currency == "" {
		currency = attr(doc.Find("meta[property='product:price:currency']"), "content")
	}
	if raw == "" {
		return nil, currency, nil
	}

	amount, err := ParseAmount(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: price %q: %v", catalog.ErrUnparsablePage, raw, err)
	}
	value := amount.Round(2).InexactFloat64()
	return &value, currency, nil
}

func parseAvailability(doc *goquery.Document, attrs catalog.Attributes) {
	delivery := doc.Find(".product--delivery .delivery--text").First()
	setString(attrs, "availability", htmlutil.Text(delivery))

	class := delivery.AttrOr("class", "")
	for _, c := range strings.Fields(class) {
		status, ok := strings.CutPrefix(c, "delivery--text-")
		if ok && status != "" {
			attrs["availability_status"] = catalog.String(status)
			break
		}
	}
}

var numberToken = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

func parseMountingTime(doc *goquery.Document, attrs catalog.Attributes) {
	text := htmlutil.Text(doc.Find(".montage-std-value").First())
	token := numberToken.FindString(text)
	if token == "" {
		return
	}
	hours, err := decimal.NewFromString(strings.Replace(token, ",", ".", 1))
	if err != nil {
		return
	}
	attrs["mounting_hours"] = catalog.Number(hours.InexactFloat64())
}

func parseBreadcrumbs(doc *goquery.Document) []string {
	var out []string
	doc.Find("ul.breadcrumb--list li[itemprop='itemListElement']").Each(func(_ int, li *goquery.Selection) {
		anchor := li.Find("a[itemprop='item']").First()
		title := htmlutil.Text(anchor)
		if anchor.Length() == 0 {
			title = htmlutil.Text(li)
		}
		if title != "" {
			out = append(out, title)
		}
	})
	return out
}

func parseImages(doc *goquery.Document) []string {
	var out []string
	seen := make(map[string]struct{})
	doc.Find(".image--element").Each(func(_ int, wrapper *goquery.Selection) {
		primary := ""
		for _, candidate := range []string{
			wrapper.AttrOr("data-img-original", ""),
			wrapper.AttrOr("data-img-large", ""),
			wrapper.AttrOr("data-img-small", ""),
			wrapper.Find("img").First().AttrOr("src", ""),
		} {
			candidate = strings.TrimSpace(candidate)
			if candidate != "" {
				primary = candidate
				break
			}
		}
		if primary == "" {
			return
		}
		if _, dup := seen[primary]; dup {
			return
		}
		seen[primary] = struct{}{}
		out = append(out, primary)
	})

	if len(out) == 0 {
		og := attr(doc.Find("meta[property='og:image']"), "content")
		if og != "" {
			out = append(out, og)
		}
	}
	return out
}

func parseDocuments(base *url.URL, doc *goquery.Document) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(link string) {
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}

	doc.Find(".ac--multimedia [data-media-url]").Each(func(_ int, block *goquery.Selection) {
		add(strings.TrimSpace(block.AttrOr("data-media-url", "")))
	})
	for _, anchor := range htmlutil.GetAnchors(base, doc.Find(".ac--multimedia a[href]")) {
		add(anchor.Url.String())
	}
	return out
}

func parseVariants(doc *goquery.Document) []string {
	var out []string
	doc.Find(".configurator--variant .variant--group").Each(func(_ int, group *goquery.Selection) {
		name := htmlutil.Text(group.Find(".variant--name").First())
		if name == "" {
			return
		}
		var options []string
		group.Find(".variant--option label.radio-label").Each(func(_ int, label *goquery.Selection) {
			option := htmlutil.Text(label)
			if option != "" {
				options = append(options, option)
			}
		})
		if len(options) > 0 {
			out = append(out, fmt.Sprintf("%s: %s", name, strings.Join(options, "|")))
		}
	})
	return out
}

func parseDescription(doc *goquery.Document) string {
	var sections []string
	doc.Find(".accordion__container").Each(func(_ int, container *goquery.Selection) {
		panel := container.Find(".accordion__panel").First()
		if panel.Length() == 0 {
			return
		}
		content, err := panel.Html()
		if err != nil {
			return
		}
		content = strings.TrimSpace(content)
		title := htmlutil.Text(container.Find(".accordion__btn").First())
		if title != "" {
			sections = append(sections, fmt.Sprintf("<h3>%s</h3>", title))
		}
		if content != "" {
			sections = append(sections, content)
		}
	})
	return textutil.CleanText(strings.Join(sections, "\n"))
}
