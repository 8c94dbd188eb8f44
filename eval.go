package drission

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
	"github.com/tidwall/gjson"

	"github.com/chromedp/drission/driver"
)

// funcRE matches scripts that already are function expressions.
var funcRE = regexp.MustCompile(`^\s*(async\s+)?(function\b|\([^)]*\)\s*=>|[\w$]+\s*=>)`)

// isFunc reports whether script is a function expression.
func isFunc(script string) bool {
	return funcRE.MatchString(script)
}

// wrapFunc turns a statement list into a function body; arguments are
// reachable through the arguments object.
func wrapFunc(script string) string {
	if isFunc(script) {
		return script
	}
	return "function(){" + script + "\n}"
}

// RunJS calls script with the document as this. Scripts that are not
// function expressions are used as a function body; args are available as
// arguments[0], arguments[1], ... Elements are passed by reference.
func (p *page) RunJS(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	doc, err := p.document(ctx)
	if err != nil {
		return nil, err
	}
	obj, err := p.callOn(ctx, doc.objectID, wrapFunc(script), args, false)
	if err != nil {
		return nil, err
	}
	return p.parseResult(ctx, obj)
}

// RunJSLoaded is RunJS after the page finished loading.
func (p *page) RunJSLoaded(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	if err := p.waitState(ctx, StateComplete); err != nil {
		return nil, err
	}
	return p.RunJS(ctx, script, args...)
}

// RunJSExpr evaluates expr in the global scope. Promises are awaited.
func (p *page) RunJSExpr(ctx context.Context, expr string) (interface{}, error) {
	ectx, err := p.executor(ctx, driver.Timeout(p.Timeouts().Script))
	if err != nil {
		return nil, err
	}
	obj, exp, err := runtime.Evaluate(expr).
		WithAwaitPromise(true).
		WithUserGesture(true).
		Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if exp != nil {
		return nil, newJSError(exp, expr)
	}
	return p.parseResult(ctx, obj)
}

// callOn calls fn on the remote object id. With byValue set the result is
// returned serialized.
func (p *page) callOn(ctx context.Context, id runtime.RemoteObjectID, fn string, args []interface{}, byValue bool) (*runtime.RemoteObject, error) {
	cargs, err := p.callArgs(ctx, args)
	if err != nil {
		return nil, err
	}
	ectx, err := p.executor(ctx, driver.Timeout(p.Timeouts().Script))
	if err != nil {
		return nil, err
	}
	obj, exp, err := runtime.CallFunctionOn(fn).
		WithObjectID(id).
		WithArguments(cargs).
		WithReturnByValue(byValue).
		WithAwaitPromise(true).
		WithUserGesture(true).
		Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if exp != nil {
		return nil, newJSError(exp, fn)
	}
	return obj, nil
}

// callValue calls fn on id and decodes the by-value result into gjson.
func (p *page) callValue(ctx context.Context, id runtime.RemoteObjectID, fn string, args ...interface{}) (gjson.Result, error) {
	obj, err := p.callOn(ctx, id, fn, args, true)
	if err != nil {
		return gjson.Result{}, err
	}
	if obj == nil || len(obj.Value) == 0 {
		return gjson.Result{}, nil
	}
	return gjson.ParseBytes(obj.Value), nil
}

func (p *page) callArgs(ctx context.Context, args []interface{}) ([]*runtime.CallArgument, error) {
	out := make([]*runtime.CallArgument, 0, len(args))
	for i, a := range args {
		arg, err := p.callArg(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
		}
		out = append(out, arg)
	}
	return out, nil
}

func (p *page) callArg(ctx context.Context, a interface{}) (*runtime.CallArgument, error) {
	switch v := a.(type) {
	case *Element:
		id, err := v.object(ctx)
		if err != nil {
			return nil, err
		}
		return &runtime.CallArgument{ObjectID: id}, nil
	case *ShadowRoot:
		id, err := v.object(ctx)
		if err != nil {
			return nil, err
		}
		return &runtime.CallArgument{ObjectID: id}, nil
	case float64:
		if s, ok := unserializable(v); ok {
			return &runtime.CallArgument{UnserializableValue: runtime.UnserializableValue(s)}, nil
		}
	case float32:
		if s, ok := unserializable(float64(v)); ok {
			return &runtime.CallArgument{UnserializableValue: runtime.UnserializableValue(s)}, nil
		}
	}
	buf, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return &runtime.CallArgument{Value: easyjson.RawMessage(buf)}, nil
}

func unserializable(f float64) (string, bool) {
	switch {
	case math.IsInf(f, 1):
		return "Infinity", true
	case math.IsInf(f, -1):
		return "-Infinity", true
	case math.IsNaN(f):
		return "NaN", true
	}
	return "", false
}

// parseResult converts a remote object into a Go value: nil, bool, float64,
// string, *Element, *ShadowRoot, []interface{} or map[string]interface{}.
// Documents are returned as the raw *runtime.RemoteObject.
func (p *page) parseResult(ctx context.Context, obj *runtime.RemoteObject) (interface{}, error) {
	if obj == nil {
		return nil, nil
	}
	if obj.UnserializableValue != "" {
		return parseUnserializable(string(obj.UnserializableValue)), nil
	}
	switch obj.Type {
	case runtime.TypeUndefined:
		return nil, nil
	case runtime.TypeObject:
	default:
		if len(obj.Value) == 0 {
			return nil, nil
		}
		return gjson.ParseBytes(obj.Value).Value(), nil
	}

	switch obj.Subtype {
	case runtime.SubtypeNull:
		return nil, nil
	case runtime.SubtypeNode:
		switch obj.ClassName {
		case "HTMLDocument", "XMLDocument", "Document":
			return obj, nil
		case "ShadowRoot":
			return newShadowRootFromObject(ctx, p, obj.ObjectID)
		}
		return newElementFromObject(ctx, p, obj.ObjectID)
	case runtime.SubtypeArray:
		return p.parseArray(ctx, obj.ObjectID)
	}
	if obj.ObjectID == "" {
		if len(obj.Value) == 0 {
			return nil, nil
		}
		return gjson.ParseBytes(obj.Value).Value(), nil
	}
	res, err := p.callValue(ctx, obj.ObjectID, stringifyJS)
	if err != nil {
		return nil, err
	}
	if !res.Exists() || res.Type == gjson.Null {
		return nil, nil
	}
	return gjson.Parse(res.String()).Value(), nil
}

// parseArray parses the indexed properties of a remote array.
func (p *page) parseArray(ctx context.Context, id runtime.RemoteObjectID) ([]interface{}, error) {
	ectx, err := p.executor(ctx)
	if err != nil {
		return nil, err
	}
	props, _, _, exp, err := runtime.GetProperties(id).WithOwnProperties(true).Do(ectx)
	if err != nil {
		return nil, wrapErr(err)
	}
	if exp != nil {
		return nil, newJSError(exp, "getProperties")
	}
	type item struct {
		i   int
		obj *runtime.RemoteObject
	}
	var items []item
	for _, prop := range props {
		i, err := strconv.Atoi(prop.Name)
		if err != nil || prop.Value == nil {
			continue
		}
		items = append(items, item{i, prop.Value})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].i < items[b].i })
	out := make([]interface{}, 0, len(items))
	for _, it := range items {
		v, err := p.parseResult(ctx, it.obj)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseUnserializable(s string) interface{} {
	switch s {
	case "Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	case "NaN":
		return math.NaN()
	case "-0":
		return math.Copysign(0, -1)
	}
	if strings.HasSuffix(s, "n") {
		if n, err := strconv.ParseInt(strings.TrimSuffix(s, "n"), 10, 64); err == nil {
			return n
		}
	}
	return s
}
