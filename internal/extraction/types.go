// Package extraction turns raw HTML into a typed StructuredData record:
// JSON-LD, OpenGraph, meta tags, microdata, headings, forms, links, images
// and tables.
package extraction

// LinkType classifies an anchor by its role on the page.
type LinkType string

const (
	LinkInternal   LinkType = "internal"
	LinkExternal   LinkType = "external"
	LinkAnchor     LinkType = "anchor"
	LinkDownload   LinkType = "download"
	LinkPagination LinkType = "pagination"
	LinkBreadcrumb LinkType = "breadcrumb"
)

// Heading is one heading-outline entry.
type Heading struct {
	Level int // 1-6
	Text  string
}

// FormField is one input/select/textarea inside a Form.
type FormField struct {
	Name string
	Type string // input type attribute, or "select"/"textarea"
}

// Form is one <form> element.
type Form struct {
	Method string // uppercased, defaults to GET
	Action string // resolved to an absolute URL
	Fields []FormField
}

// Link is one anchor, resolved to an absolute URL and classified.
type Link struct {
	URL      string
	Text     string
	Rel      string
	Type     LinkType
	Nofollow bool
}

// Image is one <img> element.
type Image struct {
	URL string
	Alt string
}

// Table is one <table> element's row/column shape, enough to feed the
// encoder's table_count dimension without storing every cell.
type Table struct {
	Rows    int
	Columns int
}

// StructuredData is everything Extraction pulls out of one page.
type StructuredData struct {
	FinalURL string

	Lang         string // html[lang] attribute, lowercased
	CanonicalURL string // link[rel=canonical] href, resolved to an absolute URL

	JSONLD      []map[string]any
	OpenGraph   map[string]string
	MetaTags    map[string]string
	TwitterCard map[string]string
	Microdata   []map[string]any

	Headings []Heading
	Forms    []Form
	Links    []Link
	Images   []Image
	Tables   []Table

	TextLength int     // byte length of the body's trimmed text content
	TextDensity float64 // textLength / max(1, html byte length)

	HasSearchForm bool
	VideoCount    int
}
