package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/seckatie/kindlenotes/internal/core/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "notebook.html"))
	require.NoError(t, err)
	return string(data)
}

func TestExtractEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t"} {
		assert.Empty(t, ExtractLibrary(raw))
		assert.Empty(t, ExtractHighlights(raw))
		_, ok := ExtractBookPage(raw)
		assert.False(t, ok)
	}
}

func TestExtractLibrary(t *testing.T) {
	entries := ExtractLibrary(loadFixture(t))
	require.Len(t, entries, 6)

	assert.Equal(t, export.LibraryEntry{
		ASIN:     "B00X57B4JG",
		Title:    "Why Greatness Cannot Be Planned: The Myth of the Objective",
		Author:   "Kenneth O. Stanley and Joel Lehman",
		CoverURL: "https://m.media-amazon.com/images/I/41P8jwhUgAL._SY160.jpg",
	}, entries[0])

	assert.Equal(t, "Gödel, Escher, Bach & Other Braids", entries[2].Title)
	assert.Equal(t, "Douglas R. Hofstadter", entries[2].Author)

	asins := make([]string, len(entries))
	for i, e := range entries {
		asins[i] = e.ASIN
	}
	assert.Equal(t, []string{"B00X57B4JG", "B07D23CFGR", "B0049U4XNQ", "B01N4DGJ6O", "B00555X8OA", "B002RI9ZUC"}, asins)
}

func TestExtractLibraryFragment(t *testing.T) {
	fragment := `<div id="B0TEST0001" class="kp-notebook-library-each-book">
		<h2 class="kp-notebook-searchable">Only Title</h2>
	</div>`

	entries := ExtractLibrary(fragment)
	require.Len(t, entries, 1)
	assert.Equal(t, "B0TEST0001", entries[0].ASIN)
	assert.Equal(t, "Only Title", entries[0].Title)
	assert.Empty(t, entries[0].Author)
	assert.Empty(t, entries[0].CoverURL)
}

func TestExtractHighlights(t *testing.T) {
	highlights := ExtractHighlights(loadFixture(t))
	require.Len(t, highlights, 6)

	want := []export.Highlight{
		{
			ID:       "highlight-QTFPNkJJU0ZCN0ZB1",
			Color:    export.ColorYellow,
			Text:     "Charles Babbage designed the first programmable computer, yet the vacuum tube that made real computers possible was invented for a different purpose entirely.",
			Page:     intPtr(12),
			Location: intPtr(283),
		},
		{
			ID:       "highlight-QTFPNkJJU0ZCN0ZB2",
			Color:    export.ColorBlue,
			Text:     "The objective is not always the best guide to the objective.",
			Page:     intPtr(15),
			Location: intPtr(341),
			Note:     "Deceptive objectives & stepping stones",
		},
		{
			ID:       "highlight-QTFPNkJJU0ZCN0ZB3",
			Color:    export.ColorPink,
			Text:     "Serendipitous discovery is the norm rather than the exception in the history of invention.",
			Location: intPtr(1500),
		},
		{
			ID:       "highlight-QTFPNkJJU0ZCN0ZB4",
			Color:    export.ColorOrange,
			Text:     "Novelty search ignores the objective and rewards only being different.",
			Page:     intPtr(88),
			Location: intPtr(2012),
		},
		{
			ID:    "highlight-QTFPNkJJU0ZCN0ZB5",
			Color: export.ColorYellow,
			Text:  "Great achievements are built from stepping stones whose value could not be seen in advance.",
			Page:  intPtr(120),
		},
		{
			ID:       "highlight-QTFPNkJJU0ZCN0ZB6",
			Color:    export.ColorYellow,
			Text:     "A computer is a stepping stone that nobody building the vacuum tube had in mind.",
			Location: intPtr(3188),
		},
	}
	if diff := cmp.Diff(want, highlights); diff != "" {
		t.Errorf("ExtractHighlights() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractHighlightsSkipsIncompleteBlocks(t *testing.T) {
	raw := `<div id="kp-notebook-annotations">
		<span id="annotationHighlightHeader">Yellow highlight | Location: 10</span>
		<div class="kp-notebook-highlight kp-notebook-highlight-yellow"><span class="a-size-base-plus">no identifier</span></div>
		<span id="annotationHighlightHeader">Blue highlight | Location: 20</span>
		<div id="h-empty" class="kp-notebook-highlight kp-notebook-highlight-blue"><span class="a-size-base-plus">   </span></div>
		<span id="annotationHighlightHeader">Pink highlight | Location: 30</span>
		<div id="h-kept" class="kp-notebook-highlight kp-notebook-highlight-pink"><span class="a-size-base-plus">kept &amp; decoded</span></div>
		<div class="kp-notebook-note"><span class="a-size-base-plus">sibling note</span></div>
	</div>`

	highlights := ExtractHighlights(raw)
	require.Len(t, highlights, 1)
	assert.Equal(t, "h-kept", highlights[0].ID)
	assert.Equal(t, export.ColorPink, highlights[0].Color)
	assert.Equal(t, "kept & decoded", highlights[0].Text)
	assert.Equal(t, intPtr(30), highlights[0].Location)
	assert.Equal(t, "sibling note", highlights[0].Note)
}

func TestExtractHighlightsNoteStopsAtNextHighlight(t *testing.T) {
	raw := `<div id="kp-notebook-annotations"><div id="block">
		<div id="h1" class="kp-notebook-highlight"><span class="a-size-base-plus">first</span></div>
		<div id="h2" class="kp-notebook-highlight"><span class="a-size-base-plus">second</span></div>
		<div class="kp-notebook-note"><span class="a-size-base-plus">belongs to second</span></div>
	</div></div>`

	highlights := ExtractHighlights(raw)
	require.Len(t, highlights, 2)
	assert.Empty(t, highlights[0].Note)
	assert.Equal(t, "belongs to second", highlights[1].Note)
}

func TestExtractBookPage(t *testing.T) {
	book, ok := ExtractBookPage(loadFixture(t))
	require.True(t, ok)

	assert.Equal(t, "B00X57B4JG", book.ASIN)
	assert.Equal(t, "Why Greatness Cannot Be Planned: The Myth of the Objective", book.Title)
	assert.Equal(t, "Kenneth O. Stanley and Joel Lehman", book.Author)
	assert.Equal(t, "https://m.media-amazon.com/images/I/41P8jwhUgAL._SY400.jpg", book.CoverURL)
	require.GreaterOrEqual(t, len(book.Highlights), 5)
	assert.Contains(t, book.Highlights[0].Text, "Charles Babbage")
}

func TestExtractBookPageMissingIdentity(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no asin", `<h3 class="kp-notebook-metadata">Title</h3>`},
		{"no title", `<input id="kp-notebook-annotations-asin" value="B0TEST0001">`},
		{"blank asin", `<input id="kp-notebook-annotations-asin" value=" "><h3 class="kp-notebook-metadata">Title</h3>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ExtractBookPage(tt.raw)
			assert.False(t, ok)
		})
	}
}

func TestExtractBookPageWithoutHighlights(t *testing.T) {
	raw := `<input id="kp-notebook-annotations-asin" value="B0TEST0001">
		<p class="kp-notebook-metadata">Your Kindle Notes For:</p>
		<h3 class="kp-notebook-metadata">Empty Book</h3>
		<p class="kp-notebook-metadata">Last accessed on Monday</p>
		<div id="kp-notebook-annotations"></div>`

	book, ok := ExtractBookPage(raw)
	require.True(t, ok)
	assert.Equal(t, "Empty Book", book.Title)
	assert.Empty(t, book.Author)
	assert.NotNil(t, book.Highlights)
	assert.Empty(t, book.Highlights)
}

func TestColorFromClasses(t *testing.T) {
	tests := []struct {
		name    string
		classes []string
		want    string
	}{
		{"yellow", []string{"kp-notebook-highlight", "kp-notebook-highlight-yellow"}, export.ColorYellow},
		{"blue", []string{"kp-notebook-highlight-blue"}, export.ColorBlue},
		{"pink", []string{"a-row", "kp-notebook-highlight-pink"}, export.ColorPink},
		{"orange", []string{"kp-notebook-highlight-orange"}, export.ColorOrange},
		{"first match wins", []string{"kp-notebook-highlight-orange", "kp-notebook-highlight-blue"}, export.ColorOrange},
		{"look-alike before real class", []string{"a-color-blue", "kp-notebook-highlight", "kp-notebook-highlight-pink"}, export.ColorPink},
		{"look-alike only", []string{"kp-notebook-highlight", "btn-orange"}, export.ColorYellow},
		{"unknown color", []string{"kp-notebook-highlight-green"}, export.ColorYellow},
		{"no classes", nil, export.ColorYellow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ColorFromClasses(tt.classes))
		})
	}
}

func TestParsePageLocation(t *testing.T) {
	tests := []struct {
		text         string
		wantPage     *int
		wantLocation *int
	}{
		{"Page 42 • Location 283", intPtr(42), intPtr(283)},
		{"Location 1500", nil, intPtr(1500)},
		{"Page 10", intPtr(10), nil},
		{"Yellow highlight | Page: 15", intPtr(15), nil},
		{"Blue highlight | Location: 1,500", nil, intPtr(1500)},
		{"no numbers here", nil, nil},
		{"", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			page, location := ParsePageLocation(tt.text)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLocation, location)
		})
	}
}
