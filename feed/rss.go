package feed

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/feeds"

	"github.com/dshills/gfeed/feed/store"
)

// Generator is written to the RSS <generator> element.
const Generator = "gfeed"

// Channel holds the RSS channel metadata.
type Channel struct {
	Title          string `yaml:"title"`
	Description    string `yaml:"description"`
	Link           string `yaml:"link"` // defaults to the feed's base URL
	Language       string `yaml:"language"`
	Copyright      string `yaml:"copyright"`
	ManagingEditor string `yaml:"managing_editor"`
	TTL            int    `yaml:"ttl"` // minutes; 0 omits <ttl>
}

// DefaultChannel returns the channel used when none is configured.
func DefaultChannel() Channel {
	return Channel{
		Title:       "Geometry files",
		Description: "BRL-CAD geometry database files",
		Language:    "en-us",
	}
}

// FeedInput is everything needed to render one feed document.
type FeedInput struct {
	Channel Channel

	// Entries are the catalog entries, newest first.
	Entries []Entry

	// BaseURL is the absolute URL files are linked under, ending in "/".
	BaseURL string

	// ContentType is used for item enclosures.
	ContentType string

	// Stats are ledger entries keyed by file name. May be nil.
	Stats map[string]store.Stats

	// MaxItems caps the item count; 0 means all entries.
	MaxItems int

	// Now is the build time (lastBuildDate).
	Now time.Time
}

// BuildFeed assembles the feed for in.
//
// Every entry becomes one item:
//   - title: the file name
//   - link: BaseURL + escaped file name
//   - guid: the link, plus "#" and a checksum prefix when known, so a
//     replaced file shows up as a new item
//   - pubDate: the file modification time
//   - description: size, and ledger details when known
//   - enclosure: link, size and ContentType
//
// The channel pubDate is the newest item time (Now when there are none).
func BuildFeed(in FeedInput) *feeds.Feed {
	ch := in.Channel
	link := ch.Link
	if link == "" {
		link = in.BaseURL
	}

	entries := in.Entries
	if in.MaxItems > 0 && len(entries) > in.MaxItems {
		entries = entries[:in.MaxItems]
	}

	f := &feeds.Feed{
		Title:       ch.Title,
		Link:        &feeds.Link{Href: link},
		Description: ch.Description,
		Copyright:   ch.Copyright,
		Created:     newestModTime(entries, in.Now),
		Updated:     in.Now,
	}

	for _, e := range entries {
		itemURL := in.BaseURL + url.PathEscape(e.Name)
		st, hasStats := in.Stats[e.Name]

		item := &feeds.Item{
			Title:       e.Name,
			Link:        &feeds.Link{Href: itemURL},
			Id:          itemGUID(itemURL, e.Checksum),
			Description: describeEntry(e, st, hasStats),
			Created:     e.ModTime,
			Enclosure: &feeds.Enclosure{
				Url:    itemURL,
				Length: fmt.Sprintf("%d", e.Size),
				Type:   in.ContentType,
			},
		}
		f.Add(item)
	}

	return f
}

// WriteRSS writes f as an RSS 2.0 document, including the XML declaration
// and the channel fields gorilla/feeds does not carry on Feed.
func WriteRSS(w io.Writer, ch Channel, f *feeds.Feed) error {
	rss := (&feeds.Rss{Feed: f}).RssFeed()
	rss.Language = ch.Language
	rss.ManagingEditor = ch.ManagingEditor
	rss.Generator = Generator
	rss.Ttl = ch.TTL

	if err := feeds.WriteXML(rss, w); err != nil {
		return fmt.Errorf("failed to write RSS: %w", err)
	}
	return nil
}

// guidChecksumLen is how many hex digits of the checksum go into a guid.
const guidChecksumLen = 12

func itemGUID(link, checksum string) string {
	if checksum == "" {
		return link
	}
	if len(checksum) > guidChecksumLen {
		checksum = checksum[:guidChecksumLen]
	}
	return link + "#" + checksum
}

func describeEntry(e Entry, st store.Stats, hasStats bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %s", e.Name, humanize.IBytes(uint64(e.Size)))
	if e.Checksum != "" {
		fmt.Fprintf(&b, ", sha256 %s", e.Checksum)
	}
	if hasStats {
		if !st.FirstSeen.IsZero() {
			fmt.Fprintf(&b, ", first listed %s", st.FirstSeen.UTC().Format(time.RFC1123Z))
		}
		fmt.Fprintf(&b, ", downloaded %s %s", humanize.Comma(st.Downloads), plural(st.Downloads, "time", "times"))
	}
	return b.String()
}

func newestModTime(entries []Entry, fallback time.Time) time.Time {
	newest := time.Time{}
	for _, e := range entries {
		if e.ModTime.After(newest) {
			newest = e.ModTime
		}
	}
	if newest.IsZero() {
		return fallback
	}
	return newest
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
