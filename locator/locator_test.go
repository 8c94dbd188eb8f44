package locator

import (
	"sort"
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `<html><body>
<div id="a" class="b" name="first">hello <span>world</span></div>
<div id="c" class="b x">second "quoted" it's</div>
<p id="a2" class="b">para</p>
<a href="/one" title="go">Link One</a>
<a href="/two">Another link</a>
<input name="q" disabled>
</body></html>`

// ids evaluates loc against the fixture and returns the id (or tag) of each
// matched element, sorted.
func ids(t *testing.T, loc Locator) []string {
	t.Helper()
	require.Equal(t, XPath, loc.Kind, loc.Value)

	doc, err := htmlquery.Parse(strings.NewReader(fixture))
	require.NoError(t, err)
	nodes, err := htmlquery.QueryAll(doc, loc.Value)
	require.NoError(t, err, loc.Value)

	var out []string
	for _, n := range nodes {
		id := htmlquery.SelectAttr(n, "id")
		if id == "" {
			id = n.Data
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func mustParse(t *testing.T, s string) Locator {
	t.Helper()
	loc, err := Parse(s)
	require.NoError(t, err, s)
	return loc
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		kind Kind
		want string
	}{
		{"#foo", XPath, `//*[@id="foo"]`},
		{".bar", XPath, `//*[@class="bar"]`},
		{".:bar", XPath, `//*[contains(@class,"bar")]`},
		{"@name", XPath, `//*[@name]`},
		{"@href^/o", XPath, `//*[starts-with(@href,"/o")]`},
		{"t:div", XPath, `//*[name()="div"]`},
		{"tag:div@id=a", XPath, `//*[name()="div"][@id="a"]`},
		{"tx=para", XPath, `//*/text()[.="para"]/..`},
		{"hello", XPath, `//*/text()[contains(.,"hello")]/..`},
		{"x://div", XPath, `//div`},
		{"xpath=//p", XPath, `//p`},
		{"c:div > span", CSS, `div > span`},
		{"css:#a", CSS, `#a`},
		{"//a[@href]", XPath, `//a[@href]`},
		{"./span", XPath, `./span`},
	}
	for _, test := range tests {
		loc := mustParse(t, test.in)
		assert.Equal(t, test.kind, loc.Kind, test.in)
		assert.Equal(t, test.want, loc.Value, test.in)
	}
}

func TestShorthandEquivalence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, mustParse(t, "@id=foo"), mustParse(t, "#foo"))
	assert.Equal(t, mustParse(t, "@class=bar"), mustParse(t, ".bar"))
	assert.Equal(t, mustParse(t, "tag:p"), mustParse(t, "t:p"))
	assert.Equal(t, mustParse(t, "text:x"), mustParse(t, "tx:x"))
}

func TestMatching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"#a", []string{"a"}},
		{".b", []string{"a", "a2"}},
		{".:b", []string{"a", "a2", "c"}},
		{"@class$x", []string{"c"}},
		{"@disabled", []string{"input"}},
		{"t:div", []string{"a", "c"}},
		{"t:div@@@id=a@@@class=b", []string{"a"}},
		{"t:div@@id=a@@class=b", []string{"a"}},
		{"@|id=a@|id=c", []string{"a", "c"}},
		{"t:div@!id=a", []string{"c"}},
		{"@@class=b@!name", []string{"a2"}},
		{"text=para", []string{"a2"}},
		{"text^Link", []string{"a"}},
		{"world", []string{"span"}},
		{`text:"quoted" it's`, []string{"c"}},
		{"t:a@@text():link", []string{"a"}},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, ids(t, mustParse(t, test.in)), test.in)
	}
}

func TestGroupsAreOrderIndependent(t *testing.T) {
	t.Parallel()

	groups := [][2]string{
		{"t:div@@id=a@@class=b", "t:div@@class=b@@id=a"},
		{"@|id=a@|class=x@|name=q", "@|name=q@|class=x@|id=a"},
		{"@@class:b@!id=c", "@!id=c@@class:b"},
	}
	for _, g := range groups {
		assert.Equal(t, ids(t, mustParse(t, g[0])), ids(t, mustParse(t, g[1])), g[0])
	}
}

func TestSyntaxErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"t:div@@id=a@|class=b",
		"tag:",
		"@=x",
		"@@=x",
	} {
		_, err := Parse(in)
		var serr *SyntaxError
		assert.ErrorAs(t, err, &serr, in)
	}
}

func TestParseBy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		by, value string
		want      []string
	}{
		{"id", "c", []string{"c"}},
		{"name", "q", []string{"input"}},
		{"tag name", "p", []string{"a2"}},
		{"class name", "b", []string{"a", "a2"}},
		{"link text", "Link One", []string{"a"}},
		{"partial link text", "link", []string{"a"}},
		{"xpath", "//span", []string{"span"}},
	}
	for _, test := range tests {
		loc, err := ParseBy(test.by, test.value)
		require.NoError(t, err)
		assert.Equal(t, test.want, ids(t, loc), test.by)
	}

	loc, err := From([2]string{"css selector", "div.b"})
	require.NoError(t, err)
	assert.Equal(t, Locator{CSS, "div.b"}, loc)

	_, err = ParseBy("nope", "x")
	assert.Error(t, err)
	_, err = From(42)
	assert.Error(t, err)
}

func TestRelative(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".//span", mustParse(t, "x://span").Relative().Value)
	assert.Equal(t, "(.//a)[1]", mustParse(t, "x:(//a)[1]").Relative().Value)
	assert.Equal(t, "./b", mustParse(t, "x:./b").Relative().Value)
	assert.Equal(t, ":scope > li", mustParse(t, "c:> li").Relative().Value)
	assert.Equal(t, "li", mustParse(t, "c:li").Relative().Value)
}

func TestQuote(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"a"`, quote("a"))
	assert.Equal(t, `'say "hi"'`, quote(`say "hi"`))
	assert.Equal(t, `concat("it's ",'"',"x",'"')`, quote(`it's "x"`))
}
