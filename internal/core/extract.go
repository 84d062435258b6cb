package core

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/seckatie/kindlenotes/internal/core/export"
)

var (
	pagePattern     = regexp.MustCompile(`\bPage:?\s*(\d[\d,]*)`)
	locationPattern = regexp.MustCompile(`\bLocation:?\s*(\d[\d,]*)`)
)

// ExtractLibrary parses the notebook library into its listed books.
//
// It accepts either the full page or the inner HTML of the library
// container. Entries without an ASIN are skipped.
func ExtractLibrary(raw string) []export.LibraryEntry {
	doc, ok := parseDocument(raw)
	if !ok {
		return nil
	}

	root := doc.Find(SelectorLibrary).First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	var entries []export.LibraryEntry
	root.Find(SelectorLibraryBook).Each(func(_ int, s *goquery.Selection) {
		asin := strings.TrimSpace(s.AttrOr("id", ""))
		if asin == "" {
			return
		}

		searchables := s.Find(SelectorSearchable)
		entry := export.LibraryEntry{
			ASIN:     asin,
			Title:    cleanText(searchables.Eq(0).Text()),
			CoverURL: strings.TrimSpace(s.Find(SelectorLibraryCover).First().AttrOr("src", "")),
		}
		if searchables.Length() > 1 {
			entry.Author = stripAuthorLabel(cleanText(searchables.Eq(1).Text()))
		}
		entries = append(entries, entry)
	})
	return entries
}

// ExtractHighlights parses every highlight block in the annotations list.
// Blocks missing an ID or text are dropped.
func ExtractHighlights(raw string) []export.Highlight {
	doc, ok := parseDocument(raw)
	if !ok {
		return nil
	}
	return extractHighlights(doc)
}

// ExtractBookPage parses a loaded book page into a Book with its highlights.
// It reports false when the ASIN or title cannot be found.
func ExtractBookPage(raw string) (export.Book, bool) {
	doc, ok := parseDocument(raw)
	if !ok {
		return export.Book{}, false
	}

	book := export.Book{
		ASIN:     strings.TrimSpace(doc.Find(SelectorAnnotationsASIN).First().AttrOr("value", "")),
		Title:    cleanText(doc.Find(SelectorMetadataTitle).First().Text()),
		Author:   bookAuthor(doc),
		CoverURL: strings.TrimSpace(doc.Find(SelectorCoverImage).First().AttrOr("src", "")),
	}
	if book.ASIN == "" || book.Title == "" {
		return export.Book{}, false
	}

	book.Highlights = extractHighlights(doc)
	if book.Highlights == nil {
		book.Highlights = []export.Highlight{}
	}
	return book, true
}

// colorClasses maps the notebook's highlight color classes to colors.
var colorClasses = func() map[string]string {
	m := make(map[string]string, len(export.Colors))
	for _, color := range export.Colors {
		m["kp-notebook-highlight-"+color] = color
	}
	return m
}()

// ColorFromClasses maps a highlight's class list to its color. Only the
// kp-notebook-highlight-<color> classes count, the first one wins, and
// anything else is yellow.
func ColorFromClasses(classes []string) string {
	for _, class := range classes {
		if color, ok := colorClasses[class]; ok {
			return color
		}
	}
	return export.ColorYellow
}

// ParsePageLocation finds "Page N" and "Location N" in a highlight header.
// Either may be nil.
func ParsePageLocation(text string) (page, location *int) {
	if m := pagePattern.FindStringSubmatch(text); m != nil {
		page = parseNumber(m[1])
	}
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		location = parseNumber(m[1])
	}
	return page, location
}

func parseDocument(raw string) (*goquery.Document, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, false
	}
	return doc, true
}

// extractHighlights walks headers and highlights in document order so each
// highlight picks up the closest header before it, whether that header sits
// in an enclosing block or in a preceding sibling.
func extractHighlights(doc *goquery.Document) []export.Highlight {
	root := doc.Find(SelectorAnnotations).First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	var (
		out    []export.Highlight
		header string
	)
	root.Find(SelectorHighlightHeader + ", " + SelectorHighlight).Each(func(_ int, s *goquery.Selection) {
		if s.Is(SelectorHighlightHeader) {
			header = s.Text()
			return
		}
		if h, ok := highlightFrom(s, header); ok {
			out = append(out, h)
		}
	})
	return out
}

func highlightFrom(s *goquery.Selection, header string) (export.Highlight, bool) {
	block := s.ParentsUntil(SelectorAnnotations).Filter("[id]").First()

	id := strings.TrimSpace(s.AttrOr("id", ""))
	if id == "" {
		id = strings.TrimSpace(block.AttrOr("id", ""))
	}

	textSel := s.Find(SelectorHighlightText).First()
	if textSel.Length() == 0 {
		textSel = s
	}
	text := cleanText(textSel.Text())

	if id == "" || text == "" {
		return export.Highlight{}, false
	}

	page, location := ParsePageLocation(header)
	if location == nil && block.Length() > 0 {
		location = parseNumber(block.Find(SelectorLocationInput).First().AttrOr("value", ""))
	}

	return export.Highlight{
		ID:       id,
		Color:    ColorFromClasses(strings.Fields(s.AttrOr("class", ""))),
		Text:     text,
		Page:     page,
		Location: location,
		Note:     noteFor(s, block),
	}, true
}

// noteFor finds the note attached to a highlight: a following sibling up to
// the next highlight, a child, or the only note in a single-highlight block.
func noteFor(s, block *goquery.Selection) string {
	var note *goquery.Selection
	for sib := s.Next(); sib.Length() > 0; sib = sib.Next() {
		if sib.Is(SelectorHighlight) {
			break
		}
		if sib.Is(SelectorNote) {
			note = sib
			break
		}
	}
	if note == nil {
		if child := s.Find(SelectorNote).First(); child.Length() > 0 {
			note = child
		}
	}
	if note == nil && block.Length() > 0 && block.Find(SelectorHighlight).Length() == 1 {
		if inBlock := block.Find(SelectorNote).First(); inBlock.Length() > 0 {
			note = inBlock
		}
	}
	if note == nil {
		return ""
	}
	return cleanText(note.Find(SelectorHighlightText).First().Text())
}

// bookAuthor picks the first metadata line that is neither the
// "Your Kindle Notes For:" label nor the "Last accessed" timestamp.
func bookAuthor(doc *goquery.Document) string {
	var author string
	doc.Find(SelectorMetadataText).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := cleanText(s.Text())
		if text == "" || strings.HasPrefix(text, metadataNotesForLabel) || strings.HasPrefix(text, metadataLastAccessed) {
			return true
		}
		author = stripAuthorLabel(text)
		return false
	})
	return author
}

func stripAuthorLabel(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, libraryAuthorLabel))
}

// cleanText decodes leftover entities and collapses whitespace runs.
func cleanText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

func parseNumber(s string) *int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
