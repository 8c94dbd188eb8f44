package drission

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/chromedp/drission/locator"
)

// ShadowRoot is a shadow root. It supports lookups and scripts but no
// input.
type ShadowRoot struct {
	p         *page
	host      *Element
	backendID cdp.BackendNodeID

	mu       sync.Mutex
	objectID runtime.RemoteObjectID
}

func newShadowRoot(ctx context.Context, p *page, host *Element, backend cdp.BackendNodeID) (*ShadowRoot, error) {
	s := &ShadowRoot{p: p, host: host, backendID: backend}
	if _, err := s.object(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newShadowRootFromObject(ctx context.Context, p *page, obj runtime.RemoteObjectID) (*ShadowRoot, error) {
	ectx, err := p.executor(ctx)
	if err != nil {
		return nil, err
	}
	node, err := dom.DescribeNode().WithObjectID(obj).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &ShadowRoot{p: p, backendID: node.BackendNodeID, objectID: obj}, nil
}

func (s *ShadowRoot) object(ctx context.Context) (runtime.RemoteObjectID, error) {
	s.mu.Lock()
	id := s.objectID
	s.mu.Unlock()
	if id != "" {
		return id, nil
	}
	ectx, err := s.p.executor(ctx)
	if err != nil {
		return "", err
	}
	obj, err := dom.ResolveNode().WithBackendNodeID(s.backendID).Do(ectx)
	if err != nil || obj == nil {
		return "", fmt.Errorf("%w: shadow root %d", ErrElementLost, s.backendID)
	}
	s.mu.Lock()
	s.objectID = obj.ObjectID
	s.mu.Unlock()
	return obj.ObjectID, nil
}

// String satisfies fmt.Stringer.
func (s *ShadowRoot) String() string {
	return fmt.Sprintf("<ShadowRoot %d>", s.backendID)
}

// Host returns the element hosting the shadow root.
func (s *ShadowRoot) Host(ctx context.Context) (*Element, error) {
	if s.host != nil {
		return s.host, nil
	}
	v, err := s.RunJS(ctx, "return this.host")
	if err != nil {
		return nil, err
	}
	e, ok := v.(*Element)
	if !ok {
		return nil, ErrElementLost
	}
	s.host = e
	return e, nil
}

// RunJS calls script with the shadow root as this.
func (s *ShadowRoot) RunJS(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	id, err := s.object(ctx)
	if err != nil {
		return nil, err
	}
	obj, err := s.p.callOn(ctx, id, wrapFunc(script), args, false)
	if err != nil {
		return nil, err
	}
	return s.p.parseResult(ctx, obj)
}

// HTML returns the markup inside the shadow root.
func (s *ShadowRoot) HTML(ctx context.Context) (string, error) {
	id, err := s.object(ctx)
	if err != nil {
		return "", err
	}
	res, err := s.p.callValue(ctx, id, propertyJS, "innerHTML")
	return res.String(), err
}

// IsAlive reports whether the host is still attached.
func (s *ShadowRoot) IsAlive(ctx context.Context) bool {
	id, err := s.object(ctx)
	if err != nil {
		return false
	}
	res, err := s.p.callValue(ctx, id, "function(){return this.host.isConnected}")
	return err == nil && res.Bool()
}

// search runs CSS directly. XPath does not apply inside shadow trees, so
// the markup is parsed locally, matched with XPath and every match is
// mapped back through its child index path.
func (s *ShadowRoot) search(ctx context.Context, _ *searchSession, loc locator.Locator) ([]FindResult, error) {
	id, err := s.object(ctx)
	if err != nil {
		return nil, stop(err)
	}
	if loc.Kind == locator.CSS {
		return s.p.scriptSearch(ctx, id, loc.Relative())
	}

	markup, err := s.HTML(ctx)
	if err != nil {
		return nil, err
	}
	root, err := parseFragment(markup)
	if err != nil {
		return nil, err
	}
	expr, err := compileXPath(loc.Value)
	if err != nil {
		return nil, stop(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	var out []FindResult
	for _, n := range htmlquery.QuerySelectorAll(root, expr) {
		if n.Type != html.ElementNode {
			out = append(out, FindResult{Text: htmlquery.InnerText(n)})
			continue
		}
		obj, err := s.p.callOn(ctx, id, childPathJS, []interface{}{childPath(n)}, false)
		if err != nil {
			return nil, err
		}
		v, err := s.p.parseResult(ctx, obj)
		if err != nil {
			return nil, err
		}
		if e, ok := v.(*Element); ok {
			out = append(out, FindResult{Ele: e})
		}
	}
	return out, nil
}

// xpaths caches compiled shadow root expressions by source.
var xpaths sync.Map

func compileXPath(s string) (*xpath.Expr, error) {
	if v, ok := xpaths.Load(s); ok {
		return v.(*xpath.Expr), nil
	}
	expr, err := xpath.Compile(s)
	if err != nil {
		return nil, err
	}
	xpaths.Store(s, expr)
	return expr, nil
}

// parseFragment parses shadow root markup below a synthetic document node.
func parseFragment(markup string) (*html.Node, error) {
	ctxNode := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctxNode)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

// childPathJS follows 1-based element child indexes from the receiver.
const childPathJS = `function(path) {
  var n = this;
  for (var i = 0; i < path.length && n; i++) {
    n = n.children[path[i] - 1];
  }
  return n || null;
}`

// childPath returns the 1-based element child indexes leading from the
// fragment root to n.
func childPath(n *html.Node) []int {
	var path []int
	for ; n != nil && n.Type == html.ElementNode; n = n.Parent {
		i := 1
		for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode {
				i++
			}
		}
		path = append(path, i)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}

// Ele returns the first match of loc inside the shadow root.
func (s *ShadowRoot) Ele(ctx context.Context, loc interface{}, opts ...FindOption) (*Element, error) {
	return s.p.ele(ctx, s.search, loc, opts)
}

// Eles returns every element matching loc inside the shadow root.
func (s *ShadowRoot) Eles(ctx context.Context, loc interface{}, opts ...FindOption) ([]*Element, error) {
	rs, err := s.Find(ctx, loc, opts...)
	return elementsOf(rs), err
}

// Find returns every match of loc inside the shadow root.
func (s *ShadowRoot) Find(ctx context.Context, loc interface{}, opts ...FindOption) ([]FindResult, error) {
	rs, _, err := s.p.poll(ctx, s.search, loc, opts)
	return rs, err
}
