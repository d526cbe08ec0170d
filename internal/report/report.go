package report

import (
	"fmt"
	"io"
	"slices"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/planner"
	"catalogsync/internal/sitemap"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// Summary renders the outcome of a run followed by its failures, skips and
// delistings when there are any.
func Summary(w io.Writer, s catalog.RunSummary) {
	t := newTable(w)
	t.SetTitle("Run %s", s.RunID)
	t.AppendRows([]table.Row{
		{"State", s.State},
		{"Started", formatTime(s.StartedAt)},
		{"Duration", s.Duration().Round(time.Millisecond)},
		{"Discovered", s.Discovered},
		{"Planned", s.Planned},
		{"Added", s.Added},
		{"Updated", s.Updated},
		{"Failed", len(s.Failed)},
		{"Skipped", len(s.Skipped)},
		{"Delisted", len(s.Delisted)},
	})
	if s.DryRun {
		t.AppendRow(table.Row{"Dry run", "yes"})
	}
	if s.Cancelled {
		t.AppendRow(table.Row{"Cancelled", fmt.Sprintf("yes, %d remaining", s.Remaining)})
	}
	t.Render()

	if len(s.Failed) > 0 {
		Failures(w, s.Failed)
	}
	if len(s.Skipped) > 0 {
		Skips(w, s.Skipped)
	}
	if len(s.Delisted) > 0 {
		Delisted(w, s.Delisted)
	}
}

func Failures(w io.Writer, failures []catalog.Failure) {
	t := newTable(w)
	t.SetTitle("Failed")
	t.AppendHeader(table.Row{"Key", "Reason"})
	for _, f := range failures {
		t.AppendRow(table.Row{f.Key, f.Reason})
	}
	t.Render()
}

func Skips(w io.Writer, skips []catalog.Skip) {
	t := newTable(w)
	t.SetTitle("Skipped")
	t.AppendHeader(table.Row{"Locator", "Reason"})
	for _, s := range skips {
		t.AppendRow(table.Row{s.Locator, s.Reason})
	}
	t.Render()
}

func Delisted(w io.Writer, delisted []catalog.Delisting) {
	t := newTable(w)
	t.SetTitle("Delisted")
	t.AppendHeader(table.Row{"Key", "Category", "Possibly renamed to"})
	for _, d := range delisted {
		renamed := "-"
		if d.RenamedTo != "" {
			renamed = d.RenamedTo.String()
		}
		t.AppendRow(table.Row{d.Key, d.Category, renamed})
	}
	t.Render()
}

// Plan renders the keys a run would fetch, in the order it would fetch them.
func Plan(w io.Writer, work planner.WorkList, stats sitemap.Stats) {
	t := newTable(w)
	t.SetTitle("Plan")
	t.AppendHeader(table.Row{"#", "Key", "Category", "Reason", "Last modified", "Last synced"})
	for i, item := range work.Items {
		t.AppendRow(table.Row{
			i + 1,
			item.Entry.Key,
			item.Entry.Category,
			item.Reason,
			formatTime(item.Entry.LastModified),
			formatTime(item.LastSynced),
		})
	}
	t.AppendFooter(table.Row{
		"", "",
		fmt.Sprintf("%d new", work.Count(planner.ReasonNew)),
		fmt.Sprintf("%d stale", work.Count(planner.ReasonStale)),
		fmt.Sprintf("%d unchanged", work.Unchanged),
		fmt.Sprintf("%d filtered", work.Filtered),
	})
	t.Render()

	s := newTable(w)
	s.SetTitle("Sitemap")
	s.AppendRows([]table.Row{
		{"Documents", stats.Documents},
		{"Locators", stats.Locators},
		{"Collisions", stats.Collisions},
		{"Listing pages", stats.Listing},
		{"Skipped", len(stats.Skipped)},
	})
	s.Render()

	if len(work.Delisted) > 0 {
		Delisted(w, work.Delisted)
	}
}

// Records renders stored records, one row per record.
func Records(w io.Writer, records []catalog.ProductRecord) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Key", "Category", "Title", "Price", "Last synced"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.Key,
			r.Category,
			display(r.Attributes, "title"),
			price(r.Attributes),
			formatTime(r.LastSynced),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(records)})
	t.Render()
}

// Record renders every attribute of a single record.
func Record(w io.Writer, r catalog.ProductRecord) {
	t := newTable(w)
	t.SetTitle("%s (%s)", r.Key, r.Category)
	t.AppendRows([]table.Row{
		{"source", r.SourceLocator},
		{"last synced", formatTime(r.LastSynced)},
	})
	t.AppendSeparator()

	names := make([]string, 0, len(r.Attributes))
	for name := range r.Attributes {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		t.AppendRow(table.Row{name, r.Attributes[name].Display()})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 80},
	})
	t.Render()
}

// Categories renders the number of stored records per category.
func Categories(w io.Writer, counts map[string]int) {
	names := make([]string, 0, len(counts))
	total := 0
	for name, n := range counts {
		names = append(names, name)
		total += n
	}
	slices.Sort(names)

	t := newTable(w)
	t.AppendHeader(table.Row{"Category", "Products"})
	for _, name := range names {
		t.AppendRow(table.Row{name, counts[name]})
	}
	t.AppendFooter(table.Row{"Total", total})
	t.Render()
}

func display(attrs catalog.Attributes, name string) string {
	v, ok := attrs[name]
	if !ok {
		return "-"
	}
	return v.Display()
}

func price(attrs catalog.Attributes) string {
	p, ok := attrs["price"]
	if !ok {
		return "-"
	}
	if c, ok := attrs["currency"]; ok {
		return p.Display() + " " + c.Display()
	}
	return p.Display()
}
