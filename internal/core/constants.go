package core

import "time"

// NotebookURL is the Kindle web notebook entry point.
const NotebookURL = "https://read.amazon.com/notebook"

// Notebook selectors
const (
	SelectorLibrary         = "#kp-notebook-library"
	SelectorLibraryBook     = ".kp-notebook-library-each-book"
	SelectorLibraryScroller = "#library-section .a-scroller"
	SelectorSearchable      = ".kp-notebook-searchable"

	SelectorAnnotations       = "#kp-notebook-annotations"
	SelectorAnnotationsASIN   = "#kp-notebook-annotations-asin"
	SelectorAnnotationsScroll = "#annotation-scroller"
	SelectorHighlight         = ".kp-notebook-highlight"
	SelectorHighlightHeader   = "#annotationHighlightHeader"
	SelectorHighlightText     = ".a-size-base-plus"
	SelectorLocationInput     = "input#kp-annotation-location"
	SelectorNote              = ".kp-notebook-note"
	SelectorTruncationBanner  = "#kp-notebook-hidden-annotations-summary"

	SelectorMetadataTitle = "h3.kp-notebook-metadata"
	SelectorMetadataText  = "p.kp-notebook-metadata"
	SelectorCoverImage    = "img.kp-notebook-cover-image-border"
	SelectorLibraryCover  = "img"
	metadataNotesForLabel = "Your Kindle Notes For:"
	metadataLastAccessed  = "Last accessed"
	libraryAuthorLabel    = "By:"
)

// Sign-in selectors
const (
	SelectorEmail       = `input[name="email"]:not([type="hidden"]), input#ap_email:not([type="hidden"])`
	SelectorEmailSubmit = `input#continue, input[type="submit"]`
	SelectorClaimed     = "input#ap-claim"
	SelectorContinue    = "input#continue"
	SelectorPassword    = `input[name="password"]:not([type="hidden"]), input#ap_password:not([type="hidden"])`
	SelectorSignIn      = `input#signInSubmit, input[type="submit"]`
	SelectorOTP         = `input[name="otpCode"]`
	SelectorOTPSubmit   = `input#auth-signin-button, input[type="submit"]`
)

// Timeout defaults for the sign-in sequence
const (
	DefaultLoginTimeout  = 20 * time.Second
	DefaultVerifyTimeout = 15 * time.Second
	DefaultManualTimeout = 60 * time.Second
	DefaultSettleDelay   = 2 * time.Second
)

// Timeout defaults for scraping
const (
	DefaultStableChecks     = 3
	DefaultPollDelay        = 2 * time.Second
	DefaultLibraryTimeout   = 10 * time.Minute
	DefaultBookLoadTimeout  = 10 * time.Second
	DefaultHighlightTimeout = 5 * time.Minute
	DefaultActionTimeout    = 30 * time.Second
	DefaultBookInterval     = time.Second
)
