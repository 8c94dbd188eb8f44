package drission

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

const testINI = `
[paths]
download_path = /dl

[chromium_options]
address = 127.0.0.1:9333
headless = true
arguments = ['--no-sandbox', '--mute-audio']

[session_options]
headers = Accept: text/html, X-Test: 1

[timeouts]
base = 5
page_load = 20

[others]
retry_times = 2
`

func writeINI(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "configs.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"DRISSION_TIMEOUT_BASE": "7",
		"DRISSION_LOAD_MODE":    "eager",
	}
	conf, err := LoadConfig(writeINI(t, testINI), func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9333", conf.Address.String)
	assert.Equal(t, "/dl", conf.DownloadPath.String)
	assert.True(t, conf.Headless.Bool)
	assert.Equal(t, []string{"--no-sandbox", "--mute-audio"}, conf.Arguments)
	assert.Equal(t, "1", conf.Headers.Get("X-Test"))
	assert.Equal(t, "text/html", conf.Headers.Get("Accept"))
	assert.Equal(t, "eager", conf.LoadMode.String)
	assert.Equal(t, int64(2), conf.RetryTimes.Int64)
	assert.Equal(t, Timeouts{Base: 7 * time.Second, PageLoad: 20 * time.Second, Script: DefaultScriptTimeout}, conf.Timeouts())
	assert.NotEmpty(t, conf.BrowserOptions())
	assert.NotEmpty(t, conf.SessionOptions())
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	none := func(string) (string, bool) { return "", false }

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.ini"), none)
	require.Error(t, err)

	_, err = LoadConfig(writeINI(t, "[chromium_options]\nheadless = maybe\n"), none)
	require.ErrorContains(t, err, "chromium_options.headless")

	_, err = LoadConfig(writeINI(t, "[others]\nretry_times = many\n"), none)
	require.ErrorContains(t, err, "others.retry_times")

	conf, err := LoadConfig("", none)
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), conf)
	assert.Equal(t, DefaultTimeouts(), conf.Timeouts())
}

func TestConfigApply(t *testing.T) {
	t.Parallel()

	base := NewConfig()
	base.Arguments = []string{"--a"}
	got := base.Apply(Config{
		Address:   null.StringFrom(""),
		Arguments: []string{"--b"},
		Proxy:     null.StringFrom("http://proxy:3128"),
	})
	assert.Equal(t, "127.0.0.1:9222", got.Address.String, "empty address keeps the default")
	assert.Equal(t, []string{"--a", "--b"}, got.Arguments)
	assert.Equal(t, []string{"--a"}, base.Arguments)
	assert.Equal(t, "http://proxy:3128", got.Proxy.String)
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a, b", []string{"a", "b"}},
		{`['--x', "--y"]`, []string{"--x", "--y"}},
		{"a\nb,\n", []string{"a", "b"}},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, splitList(test.in), test.in)
	}
}
