package drission

import (
	"sync"
	"time"

	"gopkg.in/guregu/null.v3"
)

// Default timeouts.
const (
	DefaultBaseTimeout     = 10 * time.Second
	DefaultPageLoadTimeout = 30 * time.Second
	DefaultScriptTimeout   = 30 * time.Second
)

// Timeouts bundles the per page deadlines. Waiters default to Base.
type Timeouts struct {
	Base     time.Duration
	PageLoad time.Duration
	Script   time.Duration
}

// DefaultTimeouts returns 10/30/30 seconds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Base:     DefaultBaseTimeout,
		PageLoad: DefaultPageLoadTimeout,
		Script:   DefaultScriptTimeout,
	}
}

// merge fills zero fields of t from d.
func (t Timeouts) merge(d Timeouts) Timeouts {
	if t.Base <= 0 {
		t.Base = d.Base
	}
	if t.PageLoad <= 0 {
		t.PageLoad = d.PageLoad
	}
	if t.Script <= 0 {
		t.Script = d.Script
	}
	return t
}

// LoadMode selects which ready state releases navigation waiters.
type LoadMode string

// Load modes.
const (
	LoadNormal LoadMode = "normal"
	LoadEager  LoadMode = "eager"
	LoadNone   LoadMode = "none"
)

// ReadyState is the merged document load state.
type ReadyState string

// Ready states, in order.
const (
	StateConnecting  ReadyState = "connecting"
	StateLoading     ReadyState = "loading"
	StateInteractive ReadyState = "interactive"
	StateComplete    ReadyState = "complete"
)

func (s ReadyState) rank() int {
	switch s {
	case StateConnecting:
		return 0
	case StateLoading:
		return 1
	case StateInteractive:
		return 2
	case StateComplete:
		return 3
	}
	return -1
}

// AlertPolicy is an automatic dialog handling policy. The zero value handles
// nothing.
type AlertPolicy struct {
	// On enables the policy.
	On bool
	// Accept accepts dialogs when true and dismisses them otherwise.
	Accept bool
}

// Settings are the switches shared by everything a Browser owns.
type Settings struct {
	mu sync.RWMutex

	raiseWhenEleNotFound bool
	raiseWhenClickFailed bool
	raiseWhenWaitFailed  bool
	singletonTabObj      bool
	cdpTimeout           time.Duration
	autoAlert            AlertPolicy
	noneElementValue     null.String
}

// NewSettings returns the defaults: raise on missing elements, singleton
// tab objects and a 30 second protocol timeout.
func NewSettings() *Settings {
	return &Settings{
		raiseWhenEleNotFound: true,
		singletonTabObj:      true,
		cdpTimeout:           30 * time.Second,
	}
}

// RaiseWhenEleNotFound reports whether finders return ErrElementNotFound
// rather than a none element.
func (s *Settings) RaiseWhenEleNotFound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raiseWhenEleNotFound
}

// SetRaiseWhenEleNotFound sets the finder policy.
func (s *Settings) SetRaiseWhenEleNotFound(v bool) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raiseWhenEleNotFound = v
	return s
}

// RaiseWhenClickFailed reports whether a failed click returns
// ErrCanNotClick rather than false.
func (s *Settings) RaiseWhenClickFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raiseWhenClickFailed
}

// SetRaiseWhenClickFailed sets the click policy.
func (s *Settings) SetRaiseWhenClickFailed(v bool) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raiseWhenClickFailed = v
	return s
}

// RaiseWhenWaitFailed reports whether waiters return ErrWaitTimeout rather
// than false.
func (s *Settings) RaiseWhenWaitFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raiseWhenWaitFailed
}

// SetRaiseWhenWaitFailed sets the wait policy.
func (s *Settings) SetRaiseWhenWaitFailed(v bool) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raiseWhenWaitFailed = v
	return s
}

// SingletonTabObj reports whether GetTab hands out one object per tab.
func (s *Settings) SingletonTabObj() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.singletonTabObj
}

// SetSingletonTabObj sets the tab object policy.
func (s *Settings) SetSingletonTabObj(v bool) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.singletonTabObj = v
	return s
}

// CDPTimeout is the default reply timeout of protocol calls.
func (s *Settings) CDPTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cdpTimeout
}

// SetCDPTimeout sets the protocol timeout for drivers created afterwards.
func (s *Settings) SetCDPTimeout(d time.Duration) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cdpTimeout = d
	return s
}

// AutoHandleAlert is the browser wide dialog policy, applied after the one
// shot and per tab policies.
func (s *Settings) AutoHandleAlert() AlertPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoAlert
}

// SetAutoHandleAlert sets the browser wide dialog policy.
func (s *Settings) SetAutoHandleAlert(p AlertPolicy) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoAlert = p
	return s
}

// NoneElementValue is what read-only getters of a none element return.
func (s *Settings) NoneElementValue() null.String {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.noneElementValue
}

// SetNoneElementValue sets the none element sentinel. An invalid value makes
// none element getters return ErrElementNotFound.
func (s *Settings) SetNoneElementValue(v null.String) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noneElementValue = v
	return s
}
