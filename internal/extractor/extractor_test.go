package extractor

import (
	"context"
	"os"
	"testing"

	"catalogsync/internal/catalog"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseProductPage(t *testing.T) {
	html, err := os.ReadFile("testdata/product.html")
	require.NoError(t, err)

	attrs, err := Default{}.ParseProductPage(context.Background(), html, "https://shop.example/en/bmw/371/sport-brake-kit")
	require.NoError(t, err)

	expected := catalog.Attributes{
		"title":               catalog.String("AC Schnitzer sport brake kit"),
		"sku":                 catalog.String("ACS-371-BK"),
		"part_number":         catalog.String("3610212310"),
		"product_id":          catalog.String("371"),
		"price":               catalog.Number(2499.9),
		"currency":            catalog.String("EUR"),
		"availability":        catalog.String("Ready to ship, 1-3 days"),
		"availability_status": catalog.String("available"),
		"mounting_hours":      catalog.Number(2.5),
		"breadcrumbs":         catalog.List("BMW", "Brakes", "Sport brake kit"),
		"images": catalog.List(
			"https://img.example/1.jpg",
			"https://img.example/2-large.jpg",
			"https://img.example/3.jpg",
		),
		"documents": catalog.List(
			"https://docs.example/manual.pdf",
			"https://shop.example/media/tuv.pdf",
		),
		"variants":          catalog.List(`Size: 18"|19"`),
		"description":       catalog.String("<h3>Details</h3>\n<p>Six piston calipers.</p>"),
		"manufacturer_info": catalog.String("AC Schnitzer GmbH Aachen"),
	}
	if diff := cmp.Diff(expected, attrs); diff != "" {
		t.Fatalf("attributes differ (-want +got):\n%s", diff)
	}
}

func TestParseProductPageFallbacks(t *testing.T) {
	html := []byte(`<html><head>
<meta property="og:image" content="https://img.example/og.jpg">
<meta property="product:price" content="149.50">
<meta property="product:price:currency" content="EUR">
</head><body><h1 class="product--title">Mirror caps</h1></body></html>`)

	attrs, err := Default{}.ParseProductPage(context.Background(), html, "https://shop.example/en/mini/mirror-caps")
	require.NoError(t, err)
	require.Equal(t, catalog.List("https://img.example/og.jpg"), attrs["images"])
	require.Equal(t, catalog.Number(149.5), attrs["price"])
	require.Equal(t, catalog.String("EUR"), attrs["currency"])
	require.NotContains(t, attrs, "variants")
	require.NoError(t, attrs.Validate())
}

func TestParseProductPageUnparsable(t *testing.T) {
	testCases := []string{
		``,
		`<html><body><h1>Not a product</h1></body></html>`,
		`<html><body><h1 class="product--title">   </h1></body></html>`,
		`<html><body><h1 class="product--title">X</h1><meta itemprop="price" content="call us"></body></html>`,
	}
	for _, html := range testCases {
		_, err := Default{}.ParseProductPage(context.Background(), []byte(html), "https://shop.example/x")
		require.ErrorIs(t, err, catalog.ErrUnparsablePage, html)
	}
}

func TestParseAmount(t *testing.T) {
	testCases := []struct {
		raw      string
		expected string
	}{
		{raw: "2499.90", expected: "2499.9"},
		{raw: "2.499,90", expected: "2499.9"},
		{raw: "2,499.90", expected: "2499.9"},
		{raw: "1.234.567", expected: "1234567"},
		{raw: "12,5", expected: "12.5"},
		{raw: "€ 1.299,00", expected: "1299"},
		{raw: "1.299", expected: "1299"},
		{raw: "89", expected: "89"},
	}
	for _, test := range testCases {
		amount, err := ParseAmount(test.raw)
		require.NoError(t, err, test.raw)
		require.True(t, amount.Equal(decimal.RequireFromString(test.expected)), "%s: got %s", test.raw, amount)
	}

	_, err := ParseAmount("n/a")
	require.Error(t, err)
}
