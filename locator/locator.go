// Package locator translates the locator mini-language into XPath or CSS
// selectors.
//
// Syntax summary:
//
//	#id  .class                     id / class equality
//	@name=v @name:v @name^v @name$v  equals / contains / starts with / ends with
//	@name                           attribute present
//	@@a=1@@b=2  @|a=1@|b=2           AND / OR groups, @! negates a term
//	tag:div@class=x  t:div           tag, optionally followed by attribute terms
//	text=v text:v text^v text$v      text node match; a bare string is text:
//	xpath:// x://  css:a>b c:a>b     raw selectors
package locator

import (
	"fmt"
	"strings"
)

// Kind is the selector language of a Locator.
type Kind int

// Locator kinds.
const (
	XPath Kind = iota
	CSS
)

// String satisfies fmt.Stringer.
func (k Kind) String() string {
	if k == CSS {
		return "css"
	}
	return "xpath"
}

// Locator is a parsed locator.
type Locator struct {
	Kind  Kind
	Value string
}

// String satisfies fmt.Stringer.
func (l Locator) String() string {
	return l.Kind.String() + ":" + l.Value
}

// By is a selenium style (by, value) pair.
type By struct {
	By    string
	Value string
}

// SyntaxError is returned for malformed locators.
type SyntaxError struct {
	Locator string
	Msg     string
}

// Error satisfies the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("locator %q: %s", e.Locator, e.Msg)
}

// From parses any supported locator form: a string, a Locator, a By, or a
// two element string array or slice.
func From(v interface{}) (Locator, error) {
	switch l := v.(type) {
	case string:
		return Parse(l)
	case Locator:
		return l, nil
	case *Locator:
		return *l, nil
	case By:
		return ParseBy(l.By, l.Value)
	case [2]string:
		return ParseBy(l[0], l[1])
	case []string:
		if len(l) == 2 {
			return ParseBy(l[0], l[1])
		}
	}
	return Locator{}, &SyntaxError{Locator: fmt.Sprint(v), Msg: fmt.Sprintf("unsupported locator type %T", v)}
}

// ParseBy translates a selenium compatible (by, value) pair.
func ParseBy(by, value string) (Locator, error) {
	q := quote(value)
	switch strings.ToLower(by) {
	case "id":
		return Locator{XPath, "//*[@id=" + q + "]"}, nil
	case "xpath":
		return Locator{XPath, value}, nil
	case "link text":
		return Locator{XPath, "//a[normalize-space(.)=" + q + "]"}, nil
	case "partial link text":
		return Locator{XPath, "//a[contains(.," + q + ")]"}, nil
	case "name":
		return Locator{XPath, "//*[@name=" + q + "]"}, nil
	case "tag name":
		return Locator{XPath, "//*[name()=" + q + "]"}, nil
	case "class name":
		return Locator{XPath, "//*[@class=" + q + "]"}, nil
	case "css selector":
		return Locator{CSS, value}, nil
	}
	return Locator{}, &SyntaxError{Locator: by + "=" + value, Msg: "unknown by " + by}
}

// Parse translates a locator string.
func Parse(s string) (Locator, error) {
	if s == "" {
		return Locator{}, &SyntaxError{Locator: s, Msg: "empty locator"}
	}
	loc := expand(s)

	switch {
	case hasPrefix(loc, "xpath"):
		return Locator{XPath, loc[6:]}, nil
	case hasPrefix(loc, "css"):
		return Locator{CSS, loc[4:]}, nil
	case hasPrefix(loc, "tag"):
		return parseTag(s, loc[4:])
	case strings.HasPrefix(loc, "@"):
		cond, err := parseTerms(s, loc)
		if err != nil {
			return Locator{}, err
		}
		return Locator{XPath, "//*[" + cond + "]"}, nil
	case len(loc) > 4 && strings.HasPrefix(loc, "text") && strings.ContainsRune("=:^$", rune(loc[4])):
		return Locator{XPath, textPath(loc[4], loc[5:])}, nil
	case strings.HasPrefix(loc, "/"), strings.HasPrefix(loc, "./"),
		strings.HasPrefix(loc, "../"), strings.HasPrefix(loc, "("):
		return Locator{XPath, loc}, nil
	}
	return Locator{XPath, textPath(':', loc)}, nil
}

// Relative rewrites an absolute selector so that it applies from a context
// node.
func (l Locator) Relative() Locator {
	v := l.Value
	switch l.Kind {
	case XPath:
		switch {
		case strings.HasPrefix(v, "/"):
			v = "." + v
		case strings.HasPrefix(v, "(/"):
			v = "(." + v[1:]
		}
	case CSS:
		if strings.HasPrefix(strings.TrimSpace(v), ">") {
			v = ":scope " + strings.TrimSpace(v)
		}
	}
	return Locator{l.Kind, v}
}

var shortPrefixes = []struct{ short, long string }{
	{"tx", "text"},
	{"t", "tag"},
	{"c", "css"},
	{"x", "xpath"},
}

// expand rewrites the shorthand forms into their long equivalents.
func expand(s string) string {
	switch {
	case strings.HasPrefix(s, "./"), strings.HasPrefix(s, ".."):
		return s
	case strings.HasPrefix(s, "."):
		return shorthandAttr("class", s[1:])
	case strings.HasPrefix(s, "#"):
		return shorthandAttr("id", s[1:])
	}
	for _, p := range shortPrefixes {
		if len(s) > len(p.short) && strings.HasPrefix(s, p.short) {
			next := s[len(p.short)]
			if next == ':' || next == '=' || (p.long == "text" && (next == '^' || next == '$')) {
				return p.long + s[len(p.short):]
			}
		}
	}
	return s
}

func shorthandAttr(name, rest string) string {
	if rest != "" && strings.ContainsRune("=:^$", rune(rest[0])) {
		return "@" + name + rest
	}
	return "@" + name + "=" + rest
}

// hasPrefix reports whether s starts with name followed by ':' or '='.
func hasPrefix(s, name string) bool {
	return len(s) > len(name) && strings.HasPrefix(s, name) && (s[len(name)] == ':' || s[len(name)] == '=')
}

func parseTag(orig, rest string) (Locator, error) {
	tag, terms := rest, ""
	if i := strings.IndexByte(rest, '@'); i != -1 {
		tag, terms = rest[:i], rest[i:]
	}
	if tag == "" {
		return Locator{}, &SyntaxError{Locator: orig, Msg: "missing tag name"}
	}
	xp := "//*[name()=" + quote(tag) + "]"
	if terms == "" {
		return Locator{XPath, xp}, nil
	}
	cond, err := parseTerms(orig, terms)
	if err != nil {
		return Locator{}, err
	}
	return Locator{XPath, xp + "[" + cond + "]"}, nil
}

// parseTerms turns one attribute term or an @@/@| group into an XPath
// predicate body.
func parseTerms(orig, s string) (string, error) {
	multi := strings.HasPrefix(s, "@@") || strings.HasPrefix(s, "@|") || strings.HasPrefix(s, "@!")
	if !multi {
		return term(orig, s[1:], false)
	}

	and, or := strings.Contains(s, "@@"), strings.Contains(s, "@|")
	if and && or {
		return "", &SyntaxError{Locator: orig, Msg: "@@ and @| cannot be mixed"}
	}
	joiner := " and "
	if or {
		joiner = " or "
	}

	var conds []string
	for len(s) > 0 {
		sep := s[:2]
		if sep != "@@" && sep != "@|" && sep != "@!" {
			return "", &SyntaxError{Locator: orig, Msg: "expected @@, @| or @! at " + s}
		}
		s = s[2:]
		end := nextSeparator(s)
		body := strings.TrimPrefix(s[:end], "@")
		s = s[end:]

		cond, err := term(orig, body, sep == "@!")
		if err != nil {
			return "", err
		}
		conds = append(conds, cond)
	}
	return strings.Join(conds, joiner), nil
}

// nextSeparator returns the index of the next group separator in s, or
// len(s). A leading '@' belongs to the current term.
func nextSeparator(s string) int {
	for i := 1; i < len(s)-1; i++ {
		if s[i] == '@' && (s[i+1] == '@' || s[i+1] == '|' || s[i+1] == '!') {
			return i
		}
	}
	return len(s)
}

// term builds the predicate for name[op value].
func term(orig, body string, negate bool) (string, error) {
	i := strings.IndexAny(body, "=:^$")
	name, op, value := body, byte(0), ""
	if i != -1 {
		name, op, value = body[:i], body[i], body[i+1:]
	}
	if name == "" {
		return "", &SyntaxError{Locator: orig, Msg: "missing attribute name"}
	}

	var cond string
	switch name {
	case "text()", "tx()":
		if op == 0 {
			cond = "text()"
		} else {
			cond = "text()[" + match(".", op, value) + "]"
		}
	default:
		attr := "@" + name
		if op == 0 {
			cond = attr
		} else {
			cond = match(attr, op, value)
		}
	}
	if negate {
		cond = "not(" + cond + ")"
	}
	return cond, nil
}

func match(subject string, op byte, value string) string {
	q := quote(value)
	switch op {
	case ':':
		return "contains(" + subject + "," + q + ")"
	case '^':
		return "starts-with(" + subject + "," + q + ")"
	case '$':
		return "substring(" + subject + ",string-length(" + subject + ")-string-length(" + q + ")+1)=" + q
	}
	return subject + "=" + q
}

func textPath(op byte, value string) string {
	if value == "" {
		if op == '=' {
			return "//*[not(text())]"
		}
		return "//*[text()]"
	}
	return "//*/text()[" + match(".", op, value) + "]/.."
}

// quote renders s as an XPath string literal.
func quote(s string) string {
	switch {
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	out := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			out = append(out, `'"'`)
		}
		if p != "" {
			out = append(out, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(out, ",") + ")"
}
