package drission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) openDialog(typ, msg string) {
	f.srv.Emit(f.tab.ID(), "Page.javascriptDialogOpening", map[string]interface{}{
		"url":               "about:blank",
		"message":           msg,
		"type":              typ,
		"hasBrowserHandler": false,
		"defaultPrompt":     "",
	})
}

func (f *fixture) closeDialog(accepted bool, input string) {
	f.srv.Emit(f.tab.ID(), "Page.javascriptDialogClosed", map[string]interface{}{
		"result":    accepted,
		"userInput": input,
	})
}

func TestHandleAlert(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.tab.HandleAlert(ctx, true, "", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)

	f.openDialog("prompt", "name?")
	text, err := f.tab.HandleAlert(ctx, true, "bob", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "name?", text)
	calls := f.srv.Calls("Page.handleJavaScriptDialog")
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Get("accept").Bool())
	assert.Equal(t, "bob", calls[0].Get("promptText").String())

	f.closeDialog(true, "bob")
	require.Eventually(t, func() bool { return f.tab.Alert().Handled }, time.Second, 5*time.Millisecond)
	a := f.tab.Alert()
	assert.False(t, a.Active)
	assert.True(t, a.Accepted)
	assert.Equal(t, "bob", a.UserInput)
	assert.Equal(t, "prompt", a.Type)
}

func TestAutoHandleAlert(t *testing.T) {
	f := newFixture(t)

	f.tab.Set().AutoHandleAlert(true, false)
	f.openDialog("confirm", "sure?")
	calls := f.srv.WaitCall("Page.handleJavaScriptDialog", 1, 2*time.Second)
	assert.False(t, calls[0].Get("accept").Bool())

	// a one shot answer wins over the policy
	f.tab.HandleNextAlert(true, "")
	f.closeDialog(false, "")
	f.openDialog("alert", "hi")
	calls = f.srv.WaitCall("Page.handleJavaScriptDialog", 2, 2*time.Second)
	assert.True(t, calls[1].Get("accept").Bool())
}

func TestAlertPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	f.tab.Set().AutoHandleAlert(true, false)
	f.tab.HandleNextAlert(true, "")
	for i, want := range []bool{true, false, false} {
		f.openDialog("alert", "hi")
		calls := f.srv.WaitCall("Page.handleJavaScriptDialog", i+1, 2*time.Second)
		assert.Equal(t, want, calls[i].Get("accept").Bool(), "dialog %d", i)
		f.closeDialog(want, "")
		require.Eventually(t, func() bool { return !f.tab.HasAlert() }, time.Second, 5*time.Millisecond)
	}
	assert.False(t, f.tab.Alert().Accepted)

	// without a policy the dialog stays open and blocks scripts
	f.tab.Set().AutoHandleAlert(false, false)
	f.openDialog("confirm", "sure?")
	require.Eventually(t, f.tab.HasAlert, time.Second, 5*time.Millisecond)
	_, err := f.tab.RunJS(ctx, "return 1")
	assert.ErrorIs(t, err, ErrAlertExists)
	assert.Empty(t, f.srv.Calls("Runtime.callFunctionOn"))
	assert.Len(t, f.srv.Calls("Page.handleJavaScriptDialog"), 3)
}
