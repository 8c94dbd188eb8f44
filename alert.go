package drission

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/drission/driver"
)

// Alert describes the last javascript dialog of a tab.
type Alert struct {
	// Active is set while the dialog is open.
	Active        bool
	Type          string
	Text          string
	DefaultPrompt string

	// Handled is set once the dialog closed; Accepted and UserInput hold
	// the response.
	Handled   bool
	Accepted  bool
	UserInput string
}

type alertResponse struct {
	accept bool
	text   string
}

// alertState is the per tab dialog machine. The receive loop flips the
// driver level flag; this records what the dialog was and how it ended.
type alertState struct {
	mu      sync.Mutex
	cur     Alert
	next    *alertResponse
	policy  AlertPolicy
	changed chan struct{}
}

func (a *alertState) init() {
	a.changed = make(chan struct{})
}

func (a *alertState) broadcast() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// respond picks the response for a dialog that just opened: the one shot
// override, then the tab policy, then the browser wide policy.
func (a *alertState) respond(global AlertPolicy) (alertResponse, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next != nil {
		r := *a.next
		a.next = nil
		return r, true
	}
	if a.policy.On {
		return alertResponse{accept: a.policy.Accept}, true
	}
	if global.On {
		return alertResponse{accept: global.Accept}, true
	}
	return alertResponse{}, false
}

func (t *Tab) onDialogOpening(drv *driver.Driver, ev *driver.Event) {
	t.alert.mu.Lock()
	t.alert.cur = Alert{
		Active:        true,
		Type:          ev.Get("type").String(),
		Text:          ev.Get("message").String(),
		DefaultPrompt: ev.Get("defaultPrompt").String(),
	}
	t.alert.broadcast()
	t.alert.mu.Unlock()
	t.log.WithField("type", ev.Get("type").String()).Debug("dialog opened")

	r, ok := t.alert.respond(t.b.settings.AutoHandleAlert())
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.Timeouts().Base)
	defer cancel()
	if err := answerDialog(ctx, drv, r); err != nil {
		t.log.WithError(err).Warn("could not handle dialog")
	}
}

func (t *Tab) onDialogClosed(ev *driver.Event) {
	t.alert.mu.Lock()
	defer t.alert.mu.Unlock()
	t.alert.cur.Active = false
	t.alert.cur.Handled = true
	t.alert.cur.Accepted = ev.Get("result").Bool()
	t.alert.cur.UserInput = ev.Get("userInput").String()
	t.alert.broadcast()
}

func answerDialog(ctx context.Context, drv *driver.Driver, r alertResponse) error {
	params := map[string]interface{}{"accept": r.accept}
	if r.text != "" {
		params["promptText"] = r.text
	}
	_, err := drv.Call(ctx, "Page.handleJavaScriptDialog", params)
	return wrapErr(err)
}

// Alert returns the state of the last dialog.
func (t *Tab) Alert() Alert {
	t.alert.mu.Lock()
	defer t.alert.mu.Unlock()
	return t.alert.cur
}

// HasAlert reports whether a dialog is open.
func (t *Tab) HasAlert() bool {
	if drv := t.rawDriver(); drv != nil && drv.AlertActive() {
		return true
	}
	return t.Alert().Active
}

// waitAlert blocks until a dialog is open.
func (t *Tab) waitAlert(ctx context.Context, timeout time.Duration) (Alert, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		t.alert.mu.Lock()
		cur, ch := t.alert.cur, t.alert.changed
		t.alert.mu.Unlock()
		if cur.Active {
			return cur, nil
		}
		select {
		case <-ch:
		case <-timer.C:
			return cur, ErrWaitTimeout
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

// HandleAlert waits up to timeout (Base when zero) for a dialog, answers it
// and returns its text. For prompts, text is entered before accepting.
func (t *Tab) HandleAlert(ctx context.Context, accept bool, text string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = t.Timeouts().Base
	}
	cur, err := t.waitAlert(ctx, timeout)
	if err != nil {
		return "", err
	}
	drv, err := t.driver(ctx)
	if err != nil {
		return "", err
	}
	if err := answerDialog(ctx, drv, alertResponse{accept: accept, text: text}); err != nil {
		return "", err
	}
	return cur.Text, nil
}

// HandleNextAlert answers the next dialog once, ahead of any policy.
func (t *Tab) HandleNextAlert(accept bool, text string) {
	t.alert.mu.Lock()
	defer t.alert.mu.Unlock()
	t.alert.next = &alertResponse{accept: accept, text: text}
}

// setAlertPolicy sets the per tab dialog policy.
func (t *Tab) setAlertPolicy(p AlertPolicy) {
	t.alert.mu.Lock()
	defer t.alert.mu.Unlock()
	t.alert.policy = p
}
