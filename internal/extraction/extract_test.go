package extraction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractParsesJSONLDAndOpenGraph(t *testing.T) {
	html := `<html><head>
		<meta property="og:title" content="Widget">
		<meta name="twitter:card" content="summary">
		<script type="application/ld+json">{"@type":"Product","offers":{"price":"9.99"}}</script>
	</head><body></body></html>`

	sd, err := Extract([]byte(html), "https://example.com/widget")
	require.NoError(t, err)
	require.Equal(t, "Widget", sd.OpenGraph["og:title"])
	require.Equal(t, "summary", sd.TwitterCard["twitter:card"])
	require.Len(t, sd.JSONLD, 1)
	require.Equal(t, "Product", sd.JSONLD[0]["@type"])
}

func TestExtractDropsMalformedJSONLD(t *testing.T) {
	html := `<html><body><script type="application/ld+json">{not valid json</script></body></html>`
	sd, err := Extract([]byte(html), "https://example.com/")
	require.NoError(t, err)
	require.Empty(t, sd.JSONLD)
}

func TestExtractJSONLDArrayForm(t *testing.T) {
	html := `<html><body><script type="application/ld+json">[{"@type":"A"},{"@type":"B"}]</script></body></html>`
	sd, err := Extract([]byte(html), "https://example.com/")
	require.NoError(t, err)
	require.Len(t, sd.JSONLD, 2)
}

func TestExtractFormsFlagSearchField(t *testing.T) {
	html := `<html><body><form method="get" action="/search">
		<input type="search" name="q">
	</form></body></html>`
	sd, err := Extract([]byte(html), "https://example.com/")
	require.NoError(t, err)
	require.Len(t, sd.Forms, 1)
	require.Equal(t, "GET", sd.Forms[0].Method)
	require.Equal(t, "https://example.com/search", sd.Forms[0].Action)
	require.True(t, sd.HasSearchForm)
}

// TestLinkClassificationPrecedence exercises the documented ordering:
// download > breadcrumb > pagination > external > internal.
func TestLinkClassificationPrecedence(t *testing.T) {
	html := `<html><body>
		<a href="/file.pdf" id="dl">file</a>
		<nav aria-label="breadcrumb"><a href="/cat">Category</a></nav>
		<a href="/page/2">2</a>
		<a href="https://other.example/">Other</a>
		<a href="/about">About</a>
		<a href="#section">Jump</a>
	</body></html>`
	sd, err := Extract([]byte(html), "https://example.com/")
	require.NoError(t, err)

	byURL := make(map[string]Link, len(sd.Links))
	for _, l := range sd.Links {
		byURL[l.URL] = l
	}

	require.Equal(t, LinkDownload, byURL["https://example.com/file.pdf"].Type)
	require.Equal(t, LinkBreadcrumb, byURL["https://example.com/cat"].Type)
	require.Equal(t, LinkPagination, byURL["https://example.com/page/2"].Type)
	require.Equal(t, LinkExternal, byURL["https://other.example/"].Type)
	require.Equal(t, LinkInternal, byURL["https://example.com/about"].Type)
	require.Equal(t, LinkAnchor, byURL["#section"].Type)
}

func TestLinkNofollowDetected(t *testing.T) {
	html := `<html><body><a href="/x" rel="nofollow">x</a></body></html>`
	sd, err := Extract([]byte(html), "https://example.com/")
	require.NoError(t, err)
	require.Len(t, sd.Links, 1)
	require.True(t, sd.Links[0].Nofollow)
}

func TestExtractTextDensityClampedToOne(t *testing.T) {
	html := `<html><body>hi</body></html>`
	sd, err := Extract([]byte(html), "https://example.com/")
	require.NoError(t, err)
	require.LessOrEqual(t, sd.TextDensity, 1.0)
	require.Greater(t, sd.TextDensity, 0.0)
}

func TestExtractVideoCountCountsEmbeds(t *testing.T) {
	html := `<html><body>
		<video src="a.mp4"></video>
		<iframe src="https://www.youtube.com/embed/x"></iframe>
	</body></html>`
	sd, err := Extract([]byte(html), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, 2, sd.VideoCount)
}

func TestExtractTablesCountRowsAndColumns(t *testing.T) {
	html := `<html><body><table>
		<tr><th>A</th><th>B</th></tr>
		<tr><td>1</td><td>2</td></tr>
	</table></body></html>`
	sd, err := Extract([]byte(html), "https://example.com/")
	require.NoError(t, err)
	require.Len(t, sd.Tables, 1)
	require.Equal(t, 2, sd.Tables[0].Rows)
	require.Equal(t, 2, sd.Tables[0].Columns)
}
