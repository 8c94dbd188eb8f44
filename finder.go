package drission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chromedp/drission/locator"
)

// FindOption configures a lookup.
type FindOption func(*findConfig)

type findConfig struct {
	timeout    time.Duration
	timeoutSet bool
	index      int
}

// FindTimeout sets how long a lookup polls for matches. Zero makes a single
// attempt. The default is the Base timeout of the page.
func FindTimeout(d time.Duration) FindOption {
	return func(c *findConfig) {
		c.timeout = d
		c.timeoutSet = true
	}
}

// Index selects the n-th match, 1-based; negative values count from the
// end. Ignored by lookups that return every match.
func Index(n int) FindOption {
	return func(c *findConfig) {
		c.index = n
	}
}

// FindResult is one match of a lookup: an element, or the value of a text,
// attribute or scalar XPath result.
type FindResult struct {
	Ele  *Element
	Text string
}

// IsText reports whether the match is not an element.
func (r FindResult) IsText() bool {
	return r.Ele == nil
}

// String satisfies fmt.Stringer.
func (r FindResult) String() string {
	if r.Ele != nil {
		return r.Ele.String()
	}
	return r.Text
}

// findResults converts a parsed script result into matches.
func findResults(v interface{}) ([]FindResult, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		list = []interface{}{v}
	}
	out := make([]FindResult, 0, len(list))
	for _, item := range list {
		switch x := item.(type) {
		case nil:
		case *Element:
			out = append(out, FindResult{Ele: x})
		case string:
			out = append(out, FindResult{Text: x})
		default:
			out = append(out, FindResult{Text: fmt.Sprint(x)})
		}
	}
	return out, nil
}

// pick returns the index-th match, 1-based, negative from the end.
func pick(rs []FindResult, index int) (FindResult, bool) {
	switch {
	case index == 0:
		index = 1
	case index < 0:
		index = len(rs) + index + 1
	}
	if index < 1 || index > len(rs) {
		return FindResult{}, false
	}
	return rs[index-1], true
}

func elementsOf(rs []FindResult) []*Element {
	out := make([]*Element, 0, len(rs))
	for _, r := range rs {
		if r.Ele != nil {
			out = append(out, r.Ele)
		}
	}
	return out
}

// notFound returns a none element or ErrElementNotFound, as the settings
// say.
func (p *page) notFound(query string) (*Element, error) {
	if p.b.settings.RaiseWhenEleNotFound() {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, query)
	}
	return noneElement(p, query), nil
}

// searchFunc runs one lookup attempt.
type searchFunc func(ctx context.Context, s *searchSession, loc locator.Locator) ([]FindResult, error)

// searchSession collects DOM.performSearch ids of one lookup so they are
// discarded once it finishes.
type searchSession struct {
	mu  sync.Mutex
	ids []string
}

func (s *searchSession) add(id string) {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
}

// poll runs search until it yields matches or the lookup timeout passes.
// Transient errors count as no match.
func (p *page) poll(ctx context.Context, search searchFunc, l interface{}, opts []FindOption) ([]FindResult, locator.Locator, error) {
	loc, err := locator.From(l)
	if err != nil {
		return nil, loc, err
	}
	cfg := findConfig{timeout: p.Timeouts().Base}
	for _, o := range opts {
		o(&cfg)
	}

	ctx, span := p.tracer.Start(ctx, "find", trace.WithAttributes(
		attribute.String("locator", loc.String()),
		attribute.String("tab", p.tabID),
	))
	defer span.End()

	sess := new(searchSession)
	defer p.discardSearches(ctx, sess)

	var found []FindResult
	r := Retry{Interval: 100 * time.Millisecond, Deadline: cfg.timeout}
	if cfg.timeoutSet && cfg.timeout <= 0 {
		r = Retry{Attempts: 1}
	}
	err = r.Do(ctx, func(ctx context.Context) error {
		rs, err := search(ctx, sess, loc)
		var perm *backoff.PermanentError
		switch {
		case errors.As(err, &perm):
			return err
		case err != nil && transient(err):
			p.invalidate()
			return errRetry
		case err != nil:
			return stop(err)
		case len(rs) == 0:
			return errRetry
		}
		found = rs
		return nil
	})
	if err != nil && err != ErrWaitTimeout {
		return nil, loc, err
	}
	return found, loc, nil
}

func (p *page) discardSearches(ctx context.Context, s *searchSession) {
	s.mu.Lock()
	ids := s.ids
	s.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	ectx, err := p.executor(ctx)
	if err != nil {
		return
	}
	for _, id := range ids {
		if err := dom.DiscardSearchResults(id).Do(ectx); err != nil {
			p.log.WithError(err).Debug("discardSearchResults")
		}
	}
}

// invalidate drops the cached document so the next lookup reads it again.
func (p *page) invalidate() {
	p.mu.Lock()
	p.doc = nil
	p.mu.Unlock()
}

// search is the page lookup: DOM.performSearch for XPath and
// DOM.querySelectorAll for CSS where the target holds only this document,
// script evaluation from the document root otherwise.
func (p *page) search(ctx context.Context, s *searchSession, loc locator.Locator) ([]FindResult, error) {
	doc, err := p.document(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case p.searchable && loc.Kind == locator.XPath && !strings.HasPrefix(loc.Value, "."):
		return p.performSearch(ctx, s, loc.Value)
	case p.searchable && loc.Kind == locator.CSS && doc.nodeID != 0:
		return p.querySelectorAll(ctx, doc.nodeID, loc.Value)
	}
	return p.scriptSearch(ctx, doc.objectID, loc)
}

func (p *page) performSearch(ctx context.Context, s *searchSession, xpath string) ([]FindResult, error) {
	ectx, err := p.executor(ctx)
	if err != nil {
		return nil, err
	}
	id, count, err := dom.PerformSearch(xpath).WithIncludeUserAgentShadowDOM(true).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	s.add(id)
	if count == 0 {
		return nil, nil
	}
	ids, err := dom.GetSearchResults(id, 0, count).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(ids) == 0 || ids[0] == 0 {
		// the document changed under the search
		return nil, nil
	}
	return p.describeAll(ctx, ids)
}

func (p *page) querySelectorAll(ctx context.Context, root cdp.NodeID, sel string) ([]FindResult, error) {
	ectx, err := p.executor(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := dom.QuerySelectorAll(root, sel).Do(ectx)
	if err != nil {
		err = wrapErr(err)
		if strings.Contains(err.Error(), "not a valid selector") {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return nil, err
	}
	return p.describeAll(ctx, ids)
}

// describeAll turns node ids into matches, describing them in parallel.
func (p *page) describeAll(ctx context.Context, ids []cdp.NodeID) ([]FindResult, error) {
	ectx, err := p.executor(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]FindResult, len(ids))
	keep := make([]bool, len(ids))
	eg, egctx := errgroup.WithContext(ectx)
	eg.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			node, err := dom.DescribeNode().WithNodeID(id).Do(egctx)
			if err != nil {
				return wrapErr(err)
			}
			switch node.NodeType {
			case cdp.NodeTypeElement:
				out[i] = FindResult{Ele: newElement(p, node.BackendNodeID, "", node.LocalName)}
				keep[i] = true
			case cdp.NodeTypeText, cdp.NodeTypeAttribute, cdp.NodeTypeCDATA, cdp.NodeTypeComment:
				out[i] = FindResult{Text: node.NodeValue}
				keep[i] = true
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	rs := out[:0]
	for i, r := range out {
		if keep[i] {
			rs = append(rs, r)
		}
	}
	return rs, nil
}

// scriptSearch evaluates the locator with the remote object as context
// node.
func (p *page) scriptSearch(ctx context.Context, id runtime.RemoteObjectID, loc locator.Locator) ([]FindResult, error) {
	fn := findXPathJS
	if loc.Kind == locator.CSS {
		fn = findCSSJS
	}
	obj, err := p.callOn(ctx, id, fn, []interface{}{loc.Value}, false)
	if err != nil {
		return nil, err
	}
	v, err := p.parseResult(ctx, obj)
	if err != nil {
		return nil, err
	}
	return findResults(v)
}

// Ele returns the first match of loc, or the one selected with Index.
// Locators are strings in the locator language, locator.Locator values or
// (by, value) pairs.
func (p *page) Ele(ctx context.Context, loc interface{}, opts ...FindOption) (*Element, error) {
	return p.ele(ctx, p.search, loc, opts)
}

// Eles returns every element matching loc. Text matches are dropped.
func (p *page) Eles(ctx context.Context, loc interface{}, opts ...FindOption) ([]*Element, error) {
	rs, err := p.Find(ctx, loc, opts...)
	return elementsOf(rs), err
}

// Find returns every match of loc, text and attribute values included.
func (p *page) Find(ctx context.Context, loc interface{}, opts ...FindOption) ([]FindResult, error) {
	rs, _, err := p.poll(ctx, p.search, loc, opts)
	return rs, err
}

func (p *page) ele(ctx context.Context, search searchFunc, loc interface{}, opts []FindOption) (*Element, error) {
	rs, l, err := p.poll(ctx, search, loc, opts)
	if err != nil {
		return nil, err
	}
	var cfg findConfig
	for _, o := range opts {
		o(&cfg)
	}
	r, ok := pick(rs, cfg.index)
	if !ok {
		return p.notFound(l.String())
	}
	if r.Ele == nil {
		return nil, fmt.Errorf("%w: %s matched %q", ErrNotElement, l, r.Text)
	}
	return r.Ele, nil
}

func (e *Element) search(ctx context.Context, _ *searchSession, loc locator.Locator) ([]FindResult, error) {
	rel := loc.Relative()
	for attempt := 0; ; attempt++ {
		id, err := e.object(ctx)
		if err != nil {
			return nil, stop(err)
		}
		rs, err := e.p.scriptSearch(ctx, id, rel)
		if attempt == 0 && err != nil && transient(err) {
			e.forget()
			continue
		}
		if err != nil && transient(err) {
			return nil, stop(err)
		}
		return rs, err
	}
}

// Ele returns the first match of loc below the element. Absolute XPath and
// child CSS selectors are applied relative to the element.
func (e *Element) Ele(ctx context.Context, loc interface{}, opts ...FindOption) (*Element, error) {
	if e.IsNone() {
		return nil, e.notFound()
	}
	return e.p.ele(ctx, e.search, loc, opts)
}

// Eles returns every element matching loc below the element.
func (e *Element) Eles(ctx context.Context, loc interface{}, opts ...FindOption) ([]*Element, error) {
	rs, err := e.Find(ctx, loc, opts...)
	return elementsOf(rs), err
}

// Find returns every match of loc below the element.
func (e *Element) Find(ctx context.Context, loc interface{}, opts ...FindOption) ([]FindResult, error) {
	if e.IsNone() {
		return nil, e.notFound()
	}
	rs, _, err := e.p.poll(ctx, e.search, loc, opts)
	return rs, err
}
