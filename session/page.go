package session

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/chromedp/drission/locator"
)

// Page is a parsed static HTML document.
type Page struct {
	root *html.Node
	url  *url.URL
}

// ParseHTML parses src. base resolves relative links and may be nil.
func ParseHTML(src string, base *url.URL) (*Page, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("session: parse html: %w", err)
	}
	return &Page{root: root, url: base}, nil
}

// URL returns the document URL.
func (p *Page) URL() *url.URL {
	return p.url
}

// Title returns the document title.
func (p *Page) Title() string {
	return strings.TrimSpace(goquery.NewDocumentFromNode(p.root).Find("title").First().Text())
}

// HTML returns the serialized document.
func (p *Page) HTML() string {
	return htmlquery.OutputHTML(p.root, true)
}

// Ele returns the first element matching loc, or nil.
func (p *Page) Ele(loc interface{}) (*Element, error) {
	return first(p, p.root, loc, false)
}

// Eles returns all elements matching loc.
func (p *Page) Eles(loc interface{}) ([]*Element, error) {
	return find(p, p.root, loc, false)
}

// Element is a node of a static page.
type Element struct {
	page *Page
	node *html.Node
}

// Node returns the underlying node.
func (e *Element) Node() *html.Node {
	return e.node
}

// Tag returns the lower case tag name.
func (e *Element) Tag() string {
	if e.node.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(e.node.Data)
}

// HTML returns the outer HTML.
func (e *Element) HTML() string {
	return htmlquery.OutputHTML(e.node, true)
}

// InnerHTML returns the inner HTML.
func (e *Element) InnerHTML() string {
	return htmlquery.OutputHTML(e.node, false)
}

// Text returns the visible text with whitespace runs collapsed.
func (e *Element) Text() string {
	return strings.Join(strings.Fields(e.RawText()), " ")
}

// RawText returns the text content as is.
func (e *Element) RawText() string {
	return htmlquery.InnerText(e.node)
}

// Attr returns the value of an attribute. href and src are resolved against
// the page URL.
func (e *Element) Attr(name string) string {
	v := htmlquery.SelectAttr(e.node, name)
	if v == "" || e.page.url == nil || (name != "href" && name != "src") {
		return v
	}
	ref, err := url.Parse(strings.TrimSpace(v))
	if err != nil || strings.HasPrefix(v, "javascript:") || strings.HasPrefix(v, "mailto:") {
		return v
	}
	return e.page.url.ResolveReference(ref).String()
}

// Attrs returns every attribute.
func (e *Element) Attrs() map[string]string {
	m := make(map[string]string, len(e.node.Attr))
	for _, a := range e.node.Attr {
		m[a.Key] = a.Val
	}
	return m
}

// Link returns the resolved href or src.
func (e *Element) Link() string {
	if v := e.Attr("href"); v != "" {
		return v
	}
	return e.Attr("src")
}

// Ele returns the first descendant matching loc.
func (e *Element) Ele(loc interface{}) (*Element, error) {
	return first(e.page, e.node, loc, true)
}

// Eles returns every descendant matching loc.
func (e *Element) Eles(loc interface{}) ([]*Element, error) {
	return find(e.page, e.node, loc, true)
}

// Parent returns the level-th ancestor element.
func (e *Element) Parent(level int) *Element {
	if level < 1 {
		level = 1
	}
	n := e.node
	for i := 0; i < level && n != nil; i++ {
		n = n.Parent
		for n != nil && n.Type != html.ElementNode {
			n = n.Parent
		}
	}
	if n == nil {
		return nil
	}
	return &Element{e.page, n}
}

// Next returns the index-th following sibling element, 1 based.
func (e *Element) Next(index int) *Element {
	return e.sibling(index, func(n *html.Node) *html.Node { return n.NextSibling })
}

// Prev returns the index-th preceding sibling element, 1 based.
func (e *Element) Prev(index int) *Element {
	return e.sibling(index, func(n *html.Node) *html.Node { return n.PrevSibling })
}

// Children returns the child elements.
func (e *Element) Children() []*Element {
	var out []*Element
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, &Element{e.page, c})
		}
	}
	return out
}

func (e *Element) sibling(index int, step func(*html.Node) *html.Node) *Element {
	if index < 1 {
		index = 1
	}
	for n := step(e.node); n != nil; n = step(n) {
		if n.Type != html.ElementNode {
			continue
		}
		if index--; index == 0 {
			return &Element{e.page, n}
		}
	}
	return nil
}

func first(p *Page, top *html.Node, loc interface{}, relative bool) (*Element, error) {
	els, err := find(p, top, loc, relative)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func find(p *Page, top *html.Node, loc interface{}, relative bool) ([]*Element, error) {
	l, err := locator.From(loc)
	if err != nil {
		return nil, err
	}
	var nodes []*html.Node
	switch l.Kind {
	case locator.CSS:
		nodes = selectCSS(top, l.Value)
	default:
		if relative {
			l = l.Relative()
		}
		nodes, err = htmlquery.QueryAll(top, l.Value)
		if err != nil {
			return nil, &locator.SyntaxError{Locator: l.Value, Msg: err.Error()}
		}
	}
	els := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, &Element{p, n})
	}
	return els, nil
}

// selectCSS runs a CSS selector below top. A leading ">" anchors the first
// compound selector to the children of top.
func selectCSS(top *html.Node, sel string) []*html.Node {
	doc := goquery.NewDocumentFromNode(top)
	sel = strings.TrimSpace(sel)
	if !strings.HasPrefix(sel, ">") {
		return doc.Find(sel).Nodes
	}
	parts := strings.SplitN(strings.TrimSpace(sel[1:]), " ", 2)
	s := doc.Selection.ChildrenFiltered(parts[0])
	if len(parts) == 2 {
		s = s.Find(parts[1])
	}
	return s.Nodes
}
