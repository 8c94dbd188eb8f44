package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	t.Parallel()

	r, err := New(
		ExecPath("/opt/chrome"),
		RemoteDebuggingPort(9333),
		Headless,
		Flag("no-first-run", false),
		Arg("--lang=de"),
		Arg("--enable-logging"),
		Arg("about:flags"),
		Extension("/ext/a"),
		Extension("/ext/b"),
		URL("https://example.com/"),
	)
	require.NoError(t, err)

	args := r.Args()
	assert.Contains(t, args, "--remote-debugging-port=9333")
	assert.Contains(t, args, "--headless")
	assert.Contains(t, args, "--lang=de")
	assert.Contains(t, args, "--enable-logging")
	assert.Contains(t, args, "--remote-allow-origins=*")
	assert.Contains(t, args, "--load-extension=/ext/a,/ext/b")
	assert.Contains(t, args, "about:flags")
	assert.NotContains(t, args, "--no-first-run")
	assert.NotContains(t, args, "--exec-path=/opt/chrome")
	assert.Equal(t, "https://example.com/", args[len(args)-1])

	assert.Equal(t, 9333, r.Port())
	assert.Equal(t, "127.0.0.1:9333", r.Address())
}

func TestArgsDefaultURL(t *testing.T) {
	t.Parallel()

	r, err := New(ExecPath("/opt/chrome"))
	require.NoError(t, err)
	args := r.Args()
	assert.Equal(t, "about:blank", args[len(args)-1])
	assert.Equal(t, DefaultPort, r.Port())
}

func TestInvalidPort(t *testing.T) {
	t.Parallel()

	_, err := New(RemoteDebuggingPort(70000))
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestPatchPreferences(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Default"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Default", "Preferences"),
		[]byte(`{"download":{"prompt_for_download":true},"keep":1}`), 0o600))

	err := PatchPreferences(dir, map[string]interface{}{
		"download.default_directory":              "/tmp/dl",
		"profile.default_content_settings.popups": 0,
	})
	require.NoError(t, err)

	var doc map[string]interface{}
	buf, err := os.ReadFile(filepath.Join(dir, "Default", "Preferences"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(buf, &doc))

	download := doc["download"].(map[string]interface{})
	assert.Equal(t, "/tmp/dl", download["default_directory"])
	assert.Equal(t, true, download["prompt_for_download"])
	profile := doc["profile"].(map[string]interface{})
	assert.Equal(t, float64(0), profile["default_content_settings"].(map[string]interface{})["popups"])
	assert.Equal(t, true, profile["exited_cleanly"])
	assert.Equal(t, float64(1), doc["keep"])
}

func TestPatchLocalState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Local State"),
		[]byte(`{"browser":{"enabled_labs_experiments":["old@1","keep-me"]}}`), 0o600))

	require.NoError(t, PatchLocalState(dir, map[string]string{"old": "2", "new-flag": ""}))

	var doc struct {
		Browser struct {
			Experiments []string `json:"enabled_labs_experiments"`
		} `json:"browser"`
	}
	buf, err := os.ReadFile(filepath.Join(dir, "Local State"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(buf, &doc))
	assert.Equal(t, []string{"keep-me", "new-flag", "old@2"}, doc.Browser.Experiments)
}

func TestParseMajorVersion(t *testing.T) {
	t.Parallel()

	v, err := parseMajorVersion([]byte("Google Chrome 120.0.6099.109 \n"))
	require.NoError(t, err)
	assert.Equal(t, 120, v)

	_, err = parseMajorVersion([]byte("nothing here"))
	assert.Error(t, err)
}

func TestStartTempProfile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the browser")
	}
	t.Parallel()

	exe := filepath.Join(t.TempDir(), "fake-chrome")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	r, err := New(ExecPath(exe), Pref("intl.accept_languages", "en"))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, r.Wait())

	dir := r.UserDataDir()
	require.NotEmpty(t, dir)
	_, err = os.Stat(filepath.Join(dir, "Default", "Preferences"))
	require.NoError(t, err)

	require.NoError(t, r.Cleanup(context.Background()))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestStartInvalidExecPath(t *testing.T) {
	t.Parallel()

	r, err := New(ExecPath(""), UserDataDir(t.TempDir()))
	require.NoError(t, err)
	assert.ErrorIs(t, r.Start(context.Background()), ErrInvalidExecPath)
}
