// Package epubgen renders a Markdown document and its images into an EPUB.
package epubgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	epub "github.com/go-shiori/go-epub"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// Options configures a Generator
type Options struct {
	HighlightStyle string
	DefaultAuthor  string
	Language       string
}

// Book describes a generated EPUB
type Book struct {
	Title    string
	Author   string
	Cover    string // source path of the cover image, empty if none
	Sections int
	Images   int
}

// Generator converts Markdown into EPUB
type Generator struct {
	md            goldmark.Markdown
	defaultAuthor string
	language      string
	logger        *slog.Logger
}

// NewGenerator creates a Generator with GFM extensions and inline-styled code highlighting.
// EPUB readers ignore external stylesheets inconsistently, so colours are written inline.
func NewGenerator(opts Options, logger *slog.Logger) *Generator {
	style := opts.HighlightStyle
	if style == "" {
		style = "github"
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	if logger == nil {
		logger = slog.Default()
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithStyle(style),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(false),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithXHTML(),
		),
	)

	return &Generator{
		md:            md,
		defaultAuthor: opts.DefaultAuthor,
		language:      lang,
		logger:        logger.With("component", "epubgen"),
	}
}

// Generate renders markdownPath into an EPUB written to w. Relative images are resolved
// against the Markdown file's directory and must stay inside rootDir. fallbackTitle is
// used when neither front matter nor a level-1 heading provides one.
func (g *Generator) Generate(ctx context.Context, w io.Writer, markdownPath, rootDir, fallbackTitle string) (*Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := os.ReadFile(markdownPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown: %w", err)
	}

	meta, body, err := SplitFrontMatter(src)
	if err != nil {
		g.logger.Warn("ignoring front matter", "file", markdownPath, "error", err)
	}

	book := &Book{Title: meta.Title, Author: meta.Author}
	if book.Title == "" {
		book.Title = FirstHeading(body)
	}
	if book.Title == "" {
		book.Title = fallbackTitle
	}
	if book.Author == "" {
		book.Author = g.defaultAuthor
	}
	lang := meta.Language
	if lang == "" {
		lang = g.language
	}

	var rendered bytes.Buffer
	if err := g.md.Convert(body, &rendered); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}

	nodes, err := html.ParseFragment(&rendered, &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"})
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered markdown: %w", err)
	}

	e, err := epub.NewEpub(book.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to create epub: %w", err)
	}
	if book.Author != "" {
		e.SetAuthor(book.Author)
	}
	e.SetLang(lang)

	images := newImageSet(e, rootDir, g.logger)

	coverPath, err := FindCover(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to search cover: %w", err)
	}
	if coverPath != "" {
		internal, err := images.add(coverPath)
		if err != nil {
			g.logger.Warn("cover image skipped", "file", coverPath, "error", err)
		} else if err := e.SetCover(internal, ""); err != nil {
			g.logger.Warn("setting cover failed", "file", coverPath, "error", err)
		} else {
			book.Cover = coverPath
		}
	}

	baseDir := filepath.Dir(markdownPath)
	for _, n := range nodes {
		images.rewrite(n, baseDir)
	}

	for i, s := range splitSections(nodes, book.Title) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := e.AddSection(s.body, s.title, fmt.Sprintf("section%04d.xhtml", i+1), ""); err != nil {
			return nil, fmt.Errorf("failed to add section %q: %w", s.title, err)
		}
		book.Sections++
	}
	if book.Sections == 0 {
		return nil, fmt.Errorf("%w: %s has no content", types.ErrValidation, filepath.Base(markdownPath))
	}
	book.Images = images.count()

	if _, err := e.WriteTo(w); err != nil {
		return nil, fmt.Errorf("failed to write epub: %w", err)
	}

	g.logger.Info("epub generated", "title", book.Title, "sections", book.Sections, "images", book.Images, "cover", book.Cover != "")
	return book, nil
}

type section struct {
	title string
	body  string
}

// splitSections starts a new section at every <h1>. Content before the first heading
// becomes a section titled after the book.
func splitSections(nodes []*html.Node, bookTitle string) []section {
	var (
		out     []section
		current *section
		buf     strings.Builder
	)
	flush := func() {
		if current != nil && strings.TrimSpace(buf.String()) != "" {
			current.body = buf.String()
			out = append(out, *current)
		}
		buf.Reset()
	}

	for _, n := range nodes {
		if n.Type == html.ElementNode && n.DataAtom == atom.H1 {
			flush()
			current = &section{title: textContent(n)}
		} else if current == nil {
			current = &section{title: bookTitle}
		}
		html.Render(&buf, n)
	}
	flush()
	return out
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// imageSet registers local images with the EPUB once each.
type imageSet struct {
	e      *epub.Epub
	root   string
	added  map[string]string
	logger *slog.Logger
}

func newImageSet(e *epub.Epub, root string, logger *slog.Logger) *imageSet {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	return &imageSet{e: e, root: abs, added: make(map[string]string), logger: logger}
}

func (s *imageSet) count() int {
	return len(s.added)
}

// add registers the image at path and returns its path inside the EPUB.
func (s *imageSet) add(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if internal, ok := s.added[abs]; ok {
		return internal, nil
	}
	if !within(s.root, abs) {
		return "", fmt.Errorf("%w: %s", types.ErrPathSecurity, path)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("image %s: %w", filepath.Base(path), types.ErrNotFound)
	}

	name := fmt.Sprintf("image%04d%s", len(s.added)+1, strings.ToLower(filepath.Ext(abs)))
	internal, err := s.e.AddImage(abs, name)
	if err != nil {
		return "", err
	}
	s.added[abs] = internal
	return internal, nil
}

// rewrite points every relative <img src> below n at its registered EPUB copy.
// Images that cannot be resolved are left untouched and logged.
func (s *imageSet) rewrite(n *html.Node, baseDir string) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		for i, attr := range n.Attr {
			if attr.Key != "src" || !isRelativeRef(attr.Val) {
				continue
			}
			ref, err := url.PathUnescape(attr.Val)
			if err != nil {
				ref = attr.Val
			}
			internal, err := s.add(filepath.Join(baseDir, filepath.FromSlash(ref)))
			if err != nil {
				s.logger.Warn("image not embedded", "src", attr.Val, "error", err)
				continue
			}
			n.Attr[i].Val = internal
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.rewrite(c, baseDir)
	}
}

func isRelativeRef(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "/") {
		return false
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return false
	}
	return true
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
