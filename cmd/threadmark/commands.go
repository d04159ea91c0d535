package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/rs/zerolog/log"
	"github.com/xonecas/threadmark/internal/anchor"
	"github.com/xonecas/threadmark/internal/bookmarkio"
	"github.com/xonecas/threadmark/internal/config"
	"github.com/xonecas/threadmark/internal/dom"
	"github.com/xonecas/threadmark/internal/fetch"
	"github.com/xonecas/threadmark/internal/resolver"
	"github.com/xonecas/threadmark/internal/server"
	"github.com/xonecas/threadmark/internal/store"
	"golang.org/x/net/html"
)

// fetchCacheTTL bounds how long a fetched page is reused within one process.
const fetchCacheTTL = 10 * time.Minute

type commonFlags struct {
	configPath string
	dbPath     string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to config.toml")
	fs.StringVar(&c.dbPath, "db", "", "bookmark database path (overrides config)")
}

func (c *commonFlags) load() (*config.Config, error) {
	if c.configPath != "" {
		return config.Load(c.configPath)
	}
	return config.LoadDefault()
}

func (c *commonFlags) openStore(cfg *config.Config) (*store.Store, error) {
	path := c.dbPath
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		dir, err := config.EnsureDataDir()
		if err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		p, err := cfg.Store.PathOrDefault()
		if err != nil {
			return nil, err
		}
		log.Debug().Str("dir", dir).Msg("Using default data dir")
		return store.Open(p)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.Open(path)
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	st, err := common.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	listen := *addr
	if listen == "" {
		listen = cfg.Server.AddrOrDefault()
	}
	srv := server.New(cfg, st, fetch.NewLoader(fetch.NewCache(fetchCacheTTL)))
	if err := srv.Serve(ctx, listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runHighlight(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("highlight", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	pageURL := fs.String("url", "", "thread URL whose bookmarks to apply (default: the source when it is a URL)")
	output := fs.String("o", "", "write the highlighted document here instead of stdout")
	diff := fs.Bool("diff", false, "print a unified diff against the original instead of the document")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: threadmark highlight [flags] <file-or-url>")
	}
	src := fs.Arg(0)

	url := *pageURL
	if url == "" && fetch.IsURL(src) {
		url = src
	}
	if url == "" {
		return errors.New("-url is required for local documents")
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	st, err := common.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	doc, err := fetch.NewLoader(nil).Load(ctx, src)
	if err != nil {
		return err
	}
	bookmarks, err := st.BookmarksForURL(url)
	if err != nil {
		return err
	}

	before := doc.String()
	anchors := make([]anchor.TextAnchor, 0, len(bookmarks))
	for _, b := range bookmarks {
		anchors = append(anchors, b.Anchor())
	}
	res := applyAnchors(doc, cfg, anchors)
	log.Info().Int("bookmarks", len(anchors)).Int("resolved", res.resolved).Int("unresolved", res.unresolved).Msg("Highlight complete")
	after := doc.String()

	w := out
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if *diff {
		edits := myers.ComputeEdits(span.URIFromPath(src), before, after)
		_, err = fmt.Fprint(w, gotextdiff.ToUnified(src, src+" (highlighted)", before, edits))
		return err
	}
	_, err = io.WriteString(w, after)
	return err
}

type applyResult struct {
	resolved   int
	unresolved int
}

// applyAnchors highlights anchors in a static document. Anchors that do not
// resolve stay unresolved; nothing else will change the document.
func applyAnchors(doc *dom.Document, cfg *config.Config, anchors []anchor.TextAnchor) applyResult {
	r := resolver.New(doc, resolver.Options{PendingTTL: cfg.Highlight.PendingTTLOrDefault()})
	defer r.Close()

	res := applyResult{resolved: r.SubmitBatch(anchors)}
	res.unresolved = r.Pending()
	return res
}

func runCapture(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	start := fs.Int("start", 0, "selection start, as a byte offset into the document text")
	end := fs.Int("end", 0, "selection end (exclusive)")
	save := fs.Bool("save", false, "store the anchor as a bookmark")
	pageURL := fs.String("url", "", "thread URL to save under (default: the source when it is a URL)")
	title := fs.String("title", "", "thread title")
	tags := fs.String("tags", "", "comma-separated tags")
	output := fs.String("o", "", "also write the document with the captured fragment highlighted here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: threadmark capture -start N -end N [flags] <file-or-url>")
	}
	src := fs.Arg(0)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	doc, err := fetch.NewLoader(nil).Load(ctx, src)
	if err != nil {
		return err
	}

	var a anchor.TextAnchor
	doc.Read(func(root *html.Node) {
		body := dom.Body(root)
		rng, ok := dom.Flatten(body, dom.Exact).RangeAt(*start, *end)
		if !ok {
			err = fmt.Errorf("range [%d, %d) is outside the document text", *start, *end)
			return
		}
		a, err = anchor.Capture(body, rng, cfg.Highlight.ContextCharsOrDefault())
	})
	if err != nil {
		return err
	}

	result := struct {
		Anchor     anchor.TextAnchor `json:"anchor"`
		BookmarkID string            `json:"bookmarkId,omitempty"`
	}{Anchor: a}

	if *output != "" {
		if res := applyAnchors(doc, cfg, []anchor.TextAnchor{a}); res.resolved != 1 {
			return fmt.Errorf("captured fragment %q did not resolve", a.Text)
		}
		if err := os.WriteFile(*output, []byte(doc.String()), 0600); err != nil {
			return err
		}
	}

	if *save {
		url := *pageURL
		if url == "" && fetch.IsURL(src) {
			url = src
		}
		st, err := common.openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		b, err := st.SaveBookmark(store.BookmarkPayload{
			Text:       a.Text,
			URL:        url,
			Title:      *title,
			Prefix:     a.Prefix,
			Suffix:     a.Suffix,
			Tags:       splitTags(*tags),
			Occurrence: a.Occurrence,
		})
		if err != nil {
			return err
		}
		result.BookmarkID = b.ID
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runList(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	query := fs.String("q", "", "search text, tags and thread titles")
	thread := fs.String("thread", "", "only bookmarks of this thread URL")
	limit := fs.Int("limit", 0, "maximum number of bookmarks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	st, err := common.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	bookmarks, err := st.ListBookmarks(store.Filter{Query: *query, ThreadID: *thread, Limit: *limit})
	if err != nil {
		return err
	}
	return printBookmarks(out, bookmarks)
}

func printBookmarks(out io.Writer, bookmarks []store.Bookmark) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTHREAD\tTEXT")
	for _, b := range bookmarks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			b.ID, b.Created.Format(time.DateTime), b.ThreadID, oneLine(b.Text, 60))
	}
	return tw.Flush()
}

func runImport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: threadmark import [flags] <archive.yaml>")
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	st, err := common.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := bookmarkio.Import(f, st)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d bookmarks\n", n)
	return nil
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	output := fs.String("o", "", "write the archive here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	st, err := common.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	w := out
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return bookmarkio.Export(w, st, time.Now())
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// oneLine collapses whitespace and truncates to maxChars runes.
func oneLine(s string, maxChars int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars-1]) + "…"
}
