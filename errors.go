package drission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"

	"github.com/chromedp/drission/driver"
)

// Error types.
var (
	// ErrElementNotFound is returned when a finder exhausted its deadline.
	ErrElementNotFound = errors.New("element not found")

	// ErrElementLost is returned when a handle's backend node no longer
	// resolves.
	ErrElementLost = errors.New("element is no longer attached to the document")

	// ErrContextLost is returned when the owning document was torn down
	// during an operation.
	ErrContextLost = errors.New("page context lost")

	// ErrPageDisconnected is returned once the connection to the target has
	// closed.
	ErrPageDisconnected = errors.New("page disconnected")

	// ErrAlertExists is returned for input and script calls while a dialog
	// is open.
	ErrAlertExists = errors.New("a javascript dialog is open")

	// ErrWaitTimeout is returned by waiters that ran out of time.
	ErrWaitTimeout = errors.New("wait timeout")

	// ErrNoRect is returned for elements without a layout box.
	ErrNoRect = errors.New("element has no layout box")

	// ErrWrongURL is returned when the browser rejected a URL.
	ErrWrongURL = errors.New("invalid url")

	// ErrCanNotClick is returned when a click could not be delivered.
	ErrCanNotClick = errors.New("element can not be clicked")

	// ErrCookieFormat is returned for malformed cookies.
	ErrCookieFormat = errors.New("invalid cookie format")

	// ErrStorage is returned when DOM storage is not available.
	ErrStorage = errors.New("storage unavailable")

	// ErrNoResource is returned when a resource body is not available.
	ErrNoResource = errors.New("resource not available")

	// ErrBrowserConnect is returned when no browser answers on the debugging
	// address.
	ErrBrowserConnect = errors.New("could not connect to browser")

	// ErrTargetNotFound is returned for unknown target ids.
	ErrTargetNotFound = errors.New("target not found")

	// ErrNotElement is returned when a locator matched a text or attribute
	// node where an element was expected.
	ErrNotElement = errors.New("result is not an element")

	// ErrInvalidArgument is returned for unusable arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCDP classifies protocol errors that match no other sentinel.
	ErrCDP = errors.New("protocol error")
)

// CDPError is a failed protocol call.
type CDPError struct {
	Method  string
	Code    int64
	Message string

	kind  error
	cause error
}

// Error satisfies the error interface.
func (e *CDPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Method, e.kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Method, e.kind, e.cause)
}

// Unwrap exposes the classified sentinel and the driver error.
func (e *CDPError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// JavaScriptError is an exception thrown by an evaluated script.
type JavaScriptError struct {
	Text   string
	Script string
}

// Error satisfies the error interface.
func (e *JavaScriptError) Error() string {
	return fmt.Sprintf("javascript error: %s\nscript: %s", e.Text, e.Script)
}

func newJSError(exp *runtime.ExceptionDetails, script string) error {
	text := exp.Text
	if exp.Exception != nil && exp.Exception.Description != "" {
		text = exp.Exception.Description
	}
	if strings.Contains(text, "Cannot find context") || strings.Contains(text, "Execution context was destroyed") {
		return ErrContextLost
	}
	return &JavaScriptError{Text: text, Script: script}
}

var lostMessages = []string{
	"Could not find node with given id",
	"No node with given id found",
	"Node with given id does not belong to the document",
	"Could not find object with given id",
	"Node is detached from document",
}

var contextMessages = []string{
	"Cannot find context with specified id",
	"Execution context was destroyed",
	"Inspected target navigated or closed",
	"Cannot find default execution context",
}

// wrapErr maps driver errors onto the package sentinels.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var de *driver.Error
	if !errors.As(err, &de) {
		return err
	}
	ce := &CDPError{Method: de.Method, Code: de.Code, Message: de.Message, cause: err}
	switch de.Kind {
	case driver.KindConnection:
		ce.kind = ErrPageDisconnected
	case driver.KindAlertExists:
		ce.kind = ErrAlertExists
	case driver.KindTimeout:
		ce.kind = ErrWaitTimeout
	default:
		ce.kind = classify(de.Message)
	}
	return ce
}

func classify(msg string) error {
	for _, m := range lostMessages {
		if strings.Contains(msg, m) {
			return ErrElementLost
		}
	}
	for _, m := range contextMessages {
		if strings.Contains(msg, m) {
			return ErrContextLost
		}
	}
	if strings.Contains(msg, "Cannot navigate to invalid URL") {
		return ErrWrongURL
	}
	return ErrCDP
}

// transient reports whether a retry window should absorb err.
func transient(err error) bool {
	return errors.Is(err, ErrContextLost) || errors.Is(err, ErrElementLost)
}
