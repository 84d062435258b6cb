package export

// Highlight colors recognized by the notebook.
const (
	ColorYellow = "yellow"
	ColorBlue   = "blue"
	ColorPink   = "pink"
	ColorOrange = "orange"
)

// Colors lists the highlight colors in the order the notebook's class table uses.
var Colors = []string{ColorYellow, ColorBlue, ColorPink, ColorOrange}

type Highlight struct {
	ID       string `json:"id" validate:"required"`
	Color    string `json:"color" validate:"oneof=yellow blue pink orange"`
	Text     string `json:"text" validate:"required"`
	Page     *int   `json:"page,omitempty"`
	Location *int   `json:"location,omitempty"`
	// Note is the user's annotation attached to the highlight; empty means none.
	Note string `json:"note,omitempty"`
}

type Book struct {
	ASIN       string      `json:"asin" validate:"required"`
	Title      string      `json:"title" validate:"required"`
	Author     string      `json:"author"`
	CoverURL   string      `json:"cover_url"`
	Highlights []Highlight `json:"highlights" validate:"dive"`
}

// LibraryEntry is a book as listed in the notebook library, before its
// highlights have been loaded.
type LibraryEntry struct {
	ASIN     string
	Title    string
	Author   string
	CoverURL string
}

type Run struct {
	// Timestamp is the RFC 3339 time of the last write, nil before any write.
	Timestamp *string `json:"timestamp"`
}

// State is the persisted aggregate of every book captured so far.
type State struct {
	Run   Run    `json:"run"`
	Books []Book `json:"books"`
}
