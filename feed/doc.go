// Package feed serves a directory of BRL-CAD geometry files (".g") over HTTP.
//
// A request's path info selects a representation by its suffix:
//
//	/moss.g          the geometry file itself, as an attachment
//	/index.rss       RSS 2.0 feed of every geometry file
//	/index.xml       the same feed, served as XML
//	/index.html      HTML listing
//	/index.txt       plain-text listing
//	/                directory: the RSS feed
//
// The Content-Type for each kind comes from a configurable table
// (DefaultContentTypes). Failures are reported as one-line plain-text bodies
// with a status code derived from the error (see StatusCode).
//
// Basic usage:
//
//	catalog := feed.NewCatalog("/srv/geometry", feed.WithTTL(30*time.Second))
//	srv, err := feed.NewServer(catalog,
//	    feed.WithChannel(feed.Channel{Title: "Geometry", Description: "BRL-CAD models"}),
//	    feed.WithEmitter(emit.NewLogEmitter(os.Stderr, true)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.Handle("/", srv)
package feed
