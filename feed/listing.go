package feed

import (
	"fmt"
	"html/template"
	"io"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dshills/gfeed/feed/store"
)

// listingRow is one file in an HTML or text listing.
type listingRow struct {
	Name      string
	URL       string
	Size      string
	Modified  string
	Downloads string
}

type listingPage struct {
	Title       string
	Description string
	FeedURL     string
	Rows        []listingRow
}

var htmlListing = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<link rel="alternate" type="application/rss+xml" title="{{.Title}}" href="{{.FeedURL}}">
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Description}}<p>{{.Description}}</p>{{end}}
<table>
<thead><tr><th>Name</th><th>Size</th><th>Modified</th><th>Downloads</th></tr></thead>
<tbody>
{{range .Rows}}<tr><td><a href="{{.URL}}">{{.Name}}</a></td><td>{{.Size}}</td><td>{{.Modified}}</td><td>{{.Downloads}}</td></tr>
{{else}}<tr><td colspan="4">No geometry files.</td></tr>
{{end}}</tbody>
</table>
<p><a href="{{.FeedURL}}">RSS</a></p>
</body>
</html>
`))

func buildListing(ch Channel, entries []Entry, baseURL string, stats map[string]store.Stats) listingPage {
	page := listingPage{
		Title:       ch.Title,
		Description: ch.Description,
		FeedURL:     baseURL + "index.rss",
		Rows:        make([]listingRow, 0, len(entries)),
	}
	for _, e := range entries {
		row := listingRow{
			Name:      e.Name,
			URL:       baseURL + url.PathEscape(e.Name),
			Size:      humanize.IBytes(uint64(e.Size)),
			Modified:  e.ModTime.UTC().Format(time.RFC3339),
			Downloads: "-",
		}
		if st, ok := stats[e.Name]; ok {
			row.Downloads = humanize.Comma(st.Downloads)
		}
		page.Rows = append(page.Rows, row)
	}
	return page
}

// WriteHTMLListing renders the HTML directory listing.
func WriteHTMLListing(w io.Writer, ch Channel, entries []Entry, baseURL string, stats map[string]store.Stats) error {
	if err := htmlListing.Execute(w, buildListing(ch, entries, baseURL, stats)); err != nil {
		return fmt.Errorf("failed to render HTML listing: %w", err)
	}
	return nil
}

// WriteTextListing renders a tab-aligned plain-text listing, one file per
// line: name, size, modification time (RFC 3339, UTC), downloads, URL.
func WriteTextListing(w io.Writer, ch Channel, entries []Entry, baseURL string, stats map[string]store.Stats) error {
	page := buildListing(ch, entries, baseURL, stats)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# %s\n", page.Title)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\tDOWNLOADS\tURL")
	for _, r := range page.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Size, r.Modified, r.Downloads, r.URL)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to render text listing: %w", err)
	}
	return nil
}
