package drission

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// download emits the events of a browser download of content that
// completes right away.
func (f *fixture) download(t *testing.T, guid, name, content string) *Mission {
	t.Helper()
	f.srv.EmitBrowser("Browser.downloadWillBegin", map[string]string{
		"frameId":           f.tab.ID(),
		"guid":              guid,
		"url":               "https://example.com/" + name,
		"suggestedFilename": name,
	})
	var m *Mission
	require.Eventually(t, func() bool {
		var ok bool
		m, ok = f.b.Downloads().Mission(guid)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	if m.IsDone() {
		return m
	}
	require.NoError(t, afero.WriteFile(f.fs, filepath.Join(testTmpPath, guid), []byte(content), 0o644))
	f.srv.EmitBrowser("Browser.downloadProgress", map[string]interface{}{
		"guid":          guid,
		"totalBytes":    len(content),
		"receivedBytes": len(content),
		"state":         "completed",
	})
	return m
}

func TestDownload(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	m := f.download(t, "g1", "report.csv", "a,b\n1,2\n")
	p, err := m.Wait(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/downloads/report.csv", p)
	assert.Equal(t, MissionCompleted, m.State())
	assert.Equal(t, f.tab.ID(), m.TabID)
	assert.Equal(t, 100.0, m.Rate())

	buf, err := afero.ReadFile(f.fs, p)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(buf))
	ok, err := afero.Exists(f.fs, filepath.Join(testTmpPath, "g1"))
	require.NoError(t, err)
	assert.False(t, ok)

	done, err := f.tab.Wait().DownloadsDone(ctx, time.Second, false)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestDownloadConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	require.NoError(t, afero.WriteFile(f.fs, "/downloads/report.csv", []byte("old"), 0o644))

	m := f.download(t, "g1", "report.csv", "new")
	p, err := m.Wait(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/downloads/report_1.csv", p)

	require.NoError(t, f.tab.Set().WhenDownloadFileExists(WhenExistsOverwrite))
	m = f.download(t, "g2", "report.csv", "newer")
	p, err = m.Wait(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/downloads/report.csv", p)
	buf, err := afero.ReadFile(f.fs, p)
	require.NoError(t, err)
	assert.Equal(t, "newer", string(buf))

	require.NoError(t, f.tab.Set().WhenDownloadFileExists(WhenExistsSkip))
	m = f.download(t, "g3", "report.csv", "")
	p, err = m.Wait(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Empty(t, p)
	assert.Equal(t, MissionSkipped, m.State())
	f.srv.WaitCall("Browser.cancelDownload", 1, 2*time.Second)

	assert.Error(t, f.tab.Set().WhenDownloadFileExists("ask"))
}

func TestDownloadRename(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	require.NoError(t, f.tab.Set().DownloadPath("/data/in"))
	f.tab.Set().DownloadFileName("renamed", "")
	m := f.download(t, "g1", "report.csv", "x")
	p, err := m.Wait(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/data/in/renamed.csv", p)

	// the rename applies once
	m = f.download(t, "g2", "report.csv", "y")
	p, err = m.Wait(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/data/in/report.csv", p)
}

func TestDownloadBegin(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	got := make(chan *Mission, 1)
	go func() {
		m, err := f.tab.Wait().DownloadBegin(ctx, true, 2*time.Second)
		assert.NoError(t, err)
		got <- m
	}()
	d := f.b.Downloads()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		tab := d.tabs[f.tab.ID()]
		return tab != nil && tab.flag != nil
	}, 2*time.Second, 5*time.Millisecond)

	f.download(t, "g1", "a.bin", "")
	var m *Mission
	select {
	case m = <-got:
	case <-ctx.Done():
		t.Fatal("download did not begin")
	}
	require.NotNil(t, m)
	assert.Equal(t, "g1", m.GUID)
	assert.Equal(t, MissionCanceled, m.State())
	f.srv.WaitCall("Browser.cancelDownload", 1, 2*time.Second)
}

func TestDownloadBeginTimeout(t *testing.T) {
	f := newFixture(t)

	m, err := f.b.Downloads().waitBegin(context.Background(), f.tab.ID(), false, 20*time.Millisecond)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestFreePath(t *testing.T) {
	fs := afero.NewMemMapFs()
	assert.Equal(t, "/d/a.txt", freePath(fs, "/d/a.txt"))

	require.NoError(t, afero.WriteFile(fs, "/d/a.txt", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/d/a_1.txt", nil, 0o644))
	assert.Equal(t, "/d/a_2.txt", freePath(fs, "/d/a.txt"))

	require.NoError(t, afero.WriteFile(fs, "/d/noext", nil, 0o644))
	assert.Equal(t, "/d/noext_1", freePath(fs, "/d/noext"))
}

func TestDownloadGoal(t *testing.T) {
	d := &DownloadManager{defaultPath: "/dl", when: WhenExistsRename, tabs: make(map[string]*tabDownloads)}

	dir, name, when := d.goal("t1", "a:b.txt")
	assert.Equal(t, "/dl", dir)
	assert.Equal(t, "a_b.txt", name)
	assert.Equal(t, WhenExistsRename, when)

	d.setTabRename("t1", "out", ".json")
	d.setTabWhenExists("t1", WhenExistsSkip)
	d.setTabPath("t1", "/x")
	dir, name, when = d.goal("t1", "a.txt")
	assert.Equal(t, "/x", dir)
	assert.Equal(t, "out.json", name)
	assert.Equal(t, WhenExistsSkip, when)

	d.setTabRename("t1", "out.bin", "")
	_, name, _ = d.goal("t1", "a.txt")
	assert.Equal(t, "out.bin", name)

	_, name, _ = d.goal("t2", "")
	assert.Equal(t, "download", name)
}

func TestDownloadMissingFile(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	f.srv.EmitBrowser("Browser.downloadWillBegin", map[string]string{
		"frameId":           f.tab.ID(),
		"guid":              "gx",
		"url":               "https://example.com/gone.bin",
		"suggestedFilename": "gone.bin",
	})
	var m *Mission
	require.Eventually(t, func() bool {
		var ok bool
		m, ok = f.b.Downloads().Mission("gx")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	f.srv.EmitBrowser("Browser.downloadProgress", map[string]interface{}{
		"guid":          "gx",
		"totalBytes":    10,
		"receivedBytes": 10,
		"state":         "completed",
	})

	start := time.Now()
	p, err := m.Wait(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Empty(t, p)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, MissionCanceled, m.State())
	ok, err := afero.Exists(f.fs, "/downloads/gone.bin")
	require.NoError(t, err)
	assert.False(t, ok)
}
