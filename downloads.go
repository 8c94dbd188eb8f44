package drission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/chromedp/drission/driver"
)

// MissionState is the state of a download.
type MissionState string

// Download states.
const (
	MissionRunning   MissionState = "running"
	MissionCompleted MissionState = "completed"
	MissionCanceled  MissionState = "canceled"
	MissionSkipped   MissionState = "skipped"
)

// WhenExists says what happens when a download's goal path is taken.
type WhenExists string

// Conflict policies.
const (
	// WhenExistsRename saves under a free name with a counter suffix.
	WhenExistsRename WhenExists = "rename"
	// WhenExistsOverwrite replaces the existing file.
	WhenExistsOverwrite WhenExists = "overwrite"
	// WhenExistsSkip cancels the download.
	WhenExistsSkip WhenExists = "skip"
)

// Mission is one download.
type Mission struct {
	GUID          string
	TabID         string
	URL           string
	SuggestedName string

	m    *DownloadManager
	tmp  string
	dir  string
	name string
	when WhenExists

	mu        sync.Mutex
	state     MissionState
	received  int64
	total     int64
	finalPath string
	done      chan struct{}
}

// State returns the current state.
func (m *Mission) State() MissionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Progress returns the received and total byte counts; total is zero when
// unknown.
func (m *Mission) Progress() (received, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received, m.total
}

// Rate returns the completed percentage.
func (m *Mission) Rate() float64 {
	r, t := m.Progress()
	if t == 0 {
		if m.State() == MissionCompleted {
			return 100
		}
		return 0
	}
	return float64(r) * 100 / float64(t)
}

// Path returns where the file is saved once complete.
func (m *Mission) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalPath != "" {
		return m.finalPath
	}
	return filepath.Join(m.dir, m.name)
}

// IsDone reports whether the download ended, in any state.
func (m *Mission) IsDone() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the download ends and returns its path, or "" when it
// did not complete.
func (m *Mission) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	var after <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		after = t.C
	}
	select {
	case <-m.done:
	case <-after:
		return "", ErrWaitTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if m.State() != MissionCompleted {
		return "", nil
	}
	return m.Path(), nil
}

// Cancel cancels the download.
func (m *Mission) Cancel(ctx context.Context) error {
	if m.IsDone() {
		return nil
	}
	_, err := m.m.b.Call(ctx, "Browser.cancelDownload", map[string]string{"guid": m.GUID})
	m.m.end(m, MissionCanceled)
	return err
}

// finish moves the browser side file to its goal path. A download whose
// file can not be moved ends canceled.
func (m *Mission) finish(ctx context.Context) {
	fs := m.m.fs
	goal := filepath.Join(m.dir, m.name)
	if err := fs.MkdirAll(m.dir, 0o755); err != nil {
		m.m.log.WithError(err).Warn("could not create download directory")
	}
	if m.when == WhenExistsRename {
		goal = freePath(fs, goal)
	}
	err := Retry{Interval: 100 * time.Millisecond, Deadline: 5 * time.Second}.Do(ctx, func(context.Context) error {
		err := fs.Rename(m.tmp, goal)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, os.ErrNotExist):
			return stop(err)
		}
		return err
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		if err = copyFile(fs, m.tmp, goal); err == nil {
			_ = fs.Remove(m.tmp)
		} else {
			_ = fs.Remove(goal)
		}
	}
	if err != nil {
		m.m.log.WithError(err).WithField("guid", m.GUID).Warn("could not move download")
		m.m.end(m, MissionCanceled)
		return
	}
	m.mu.Lock()
	m.finalPath = goal
	m.mu.Unlock()
	m.m.end(m, MissionCompleted)
}

// String satisfies fmt.Stringer.
func (m *Mission) String() string {
	return fmt.Sprintf("<Mission %s %s %s>", m.GUID, m.State(), m.name)
}

// freePath returns p, or p with the first free counter before its
// extension.
func freePath(fs afero.Fs, p string) string {
	if _, err := fs.Stat(p); err != nil {
		return p
	}
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		c := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := fs.Stat(c); err != nil {
			return c
		}
	}
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// badName matches characters that can not appear in file names.
var badName = strings.NewReplacer(`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_", `"`, "_", "<", "_", ">", "_", "|", "_")

// tabDownloads holds the download settings of one tab.
type tabDownloads struct {
	path   string
	rename string
	suffix string
	when   WhenExists
	flag   *downloadFlag
}

// downloadFlag intercepts the next download of a tab.
type downloadFlag struct {
	cancel bool
	ch     chan *Mission
}

// DownloadManager tracks the downloads of a browser. Browser side files
// land in a private directory and are moved to their goal path once
// complete.
type DownloadManager struct {
	b   *Browser
	fs  afero.Fs
	log *logrus.Entry
	wg  sync.WaitGroup

	mu          sync.Mutex
	defaultPath string
	when        WhenExists
	tabs        map[string]*tabDownloads
	missions    map[string]*Mission
	changed     chan struct{}
}

func newDownloadManager(b *Browser) *DownloadManager {
	return &DownloadManager{
		b:           b,
		fs:          b.fs,
		log:         b.log.WithField("component", "downloads"),
		defaultPath: b.downloadPath,
		when:        WhenExistsRename,
		tabs:        make(map[string]*tabDownloads),
		missions:    make(map[string]*Mission),
		changed:     make(chan struct{}),
	}
}

func (d *DownloadManager) broadcast() {
	close(d.changed)
	d.changed = make(chan struct{})
}

func (d *DownloadManager) setDefaultPath(dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultPath = dir
}

// tab returns the settings of tabID, creating them. Must hold d.mu.
func (d *DownloadManager) tab(tabID string) *tabDownloads {
	t := d.tabs[tabID]
	if t == nil {
		t = new(tabDownloads)
		d.tabs[tabID] = t
	}
	return t
}

func (d *DownloadManager) setTabPath(tabID, dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tab(tabID).path = dir
}

func (d *DownloadManager) setTabRename(tabID, name, suffix string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tab(tabID)
	t.rename, t.suffix = name, strings.TrimPrefix(suffix, ".")
}

func (d *DownloadManager) setTabWhenExists(tabID string, w WhenExists) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tab(tabID).when = w
}

// dropTab forgets the settings and the pending flag of a closed tab.
func (d *DownloadManager) dropTab(tabID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tabs, tabID)
}

// goal resolves directory, file name and conflict policy of a download.
// The rename of a tab is used once. Must hold d.mu.
func (d *DownloadManager) goal(tabID, suggested string) (string, string, WhenExists) {
	dir, name, when := d.defaultPath, suggested, d.when
	if t := d.tabs[tabID]; t != nil {
		if t.path != "" {
			dir = t.path
		}
		if t.when != "" {
			when = t.when
		}
		if t.rename != "" {
			name = t.rename
			switch {
			case t.suffix != "":
				name += "." + t.suffix
			case filepath.Ext(t.rename) == "":
				name += filepath.Ext(suggested)
			}
			t.rename, t.suffix = "", ""
		}
	}
	if name == "" {
		name = "download"
	}
	return dir, badName.Replace(name), when
}

func (d *DownloadManager) onWillBegin(ev *driver.Event) {
	guid := ev.Get("guid").String()
	tabID, ok := d.b.FrameTab(ev.Get("frameId").String())
	if !ok {
		tabID = ""
	}

	d.mu.Lock()
	dir, name, when := d.goal(tabID, ev.Get("suggestedFilename").String())
	m := &Mission{
		GUID:          guid,
		TabID:         tabID,
		URL:           ev.Get("url").String(),
		SuggestedName: ev.Get("suggestedFilename").String(),
		m:             d,
		tmp:           filepath.Join(d.b.tmpPath, guid),
		dir:           dir,
		name:          name,
		when:          when,
		state:         MissionRunning,
		done:          make(chan struct{}),
	}
	d.missions[guid] = m
	var flag *downloadFlag
	if t := d.tabs[tabID]; t != nil && t.flag != nil {
		flag, t.flag = t.flag, nil
	}
	d.broadcast()
	d.mu.Unlock()

	log := d.log.WithFields(logrus.Fields{"guid": guid, "tab": tabID})
	log.WithField("name", name).Debug("download begins")

	skip := false
	goal := filepath.Join(dir, name)
	if _, err := d.fs.Stat(goal); err == nil {
		switch when {
		case WhenExistsSkip:
			skip = true
		case WhenExistsOverwrite:
			if err := d.fs.Remove(goal); err != nil {
				log.WithError(err).Warn("could not remove existing file")
			}
		}
	}
	if skip || flag != nil && flag.cancel {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.b.timeouts.Base)
			defer cancel()
			if _, err := d.b.Call(ctx, "Browser.cancelDownload", map[string]string{"guid": guid}); err != nil {
				log.WithError(err).Debug("cancelDownload")
			}
		}()
		if skip {
			d.end(m, MissionSkipped)
		} else {
			d.end(m, MissionCanceled)
		}
	}
	if flag != nil {
		flag.ch <- m
	}
}

func (d *DownloadManager) onProgress(ev *driver.Event) {
	d.mu.Lock()
	m := d.missions[ev.Get("guid").String()]
	d.mu.Unlock()
	if m == nil {
		return
	}
	m.mu.Lock()
	m.received = ev.Get("receivedBytes").Int()
	m.total = ev.Get("totalBytes").Int()
	m.mu.Unlock()

	switch ev.Get("state").String() {
	case "completed":
		if m.IsDone() {
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			m.finish(context.Background())
		}()
	case "canceled":
		d.end(m, MissionCanceled)
	}
}

// end moves m into a final state once and wakes the waiters.
func (d *DownloadManager) end(m *Mission, s MissionState) {
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		return
	default:
	}
	m.state = s
	close(m.done)
	m.mu.Unlock()

	if s == MissionCanceled {
		if err := d.fs.Remove(m.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.log.WithError(err).Debug("could not remove partial download")
		}
	}
	d.log.WithFields(logrus.Fields{"guid": m.GUID, "state": s}).Debug("download ended")
	d.mu.Lock()
	d.broadcast()
	d.mu.Unlock()
}

// Missions returns every download, running or ended.
func (d *DownloadManager) Missions() []*Mission {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Mission, 0, len(d.missions))
	for _, m := range d.missions {
		out = append(out, m)
	}
	return out
}

// Mission returns the download with the given guid.
func (d *DownloadManager) Mission(guid string) (*Mission, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.missions[guid]
	return m, ok
}

func (d *DownloadManager) running(tabID string) []*Mission {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Mission
	for _, m := range d.missions {
		if m.TabID == tabID && !m.IsDone() {
			out = append(out, m)
		}
	}
	return out
}

// waitBegin installs the flag of tabID and waits for the next download.
func (d *DownloadManager) waitBegin(ctx context.Context, tabID string, cancel bool, timeout time.Duration) (*Mission, error) {
	flag := &downloadFlag{cancel: cancel, ch: make(chan *Mission, 1)}
	d.mu.Lock()
	d.tab(tabID).flag = flag
	d.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-flag.ch:
		return m, nil
	case <-t.C:
	case <-ctx.Done():
	}
	d.mu.Lock()
	if tab := d.tabs[tabID]; tab != nil && tab.flag == flag {
		tab.flag = nil
	}
	d.mu.Unlock()
	// a download may have taken the flag meanwhile
	select {
	case m := <-flag.ch:
		return m, nil
	default:
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, ErrWaitTimeout
}

// waitTab waits until no download of tabID is running.
func (d *DownloadManager) waitTab(ctx context.Context, tabID string, timeout time.Duration, cancelIfTimeout, raise bool) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		d.mu.Lock()
		ch := d.changed
		d.mu.Unlock()
		running := d.running(tabID)
		if len(running) == 0 {
			return true, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
			if cancelIfTimeout {
				for _, m := range running {
					if err := m.Cancel(ctx); err != nil {
						d.log.WithError(err).Debug("cancel on timeout")
					}
				}
			}
			if raise {
				return false, ErrWaitTimeout
			}
			return false, nil
		}
	}
}

// Wait waits until every download ended.
func (d *DownloadManager) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		d.mu.Lock()
		ch := d.changed
		busy := false
		for _, m := range d.missions {
			if !m.IsDone() {
				busy = true
				break
			}
		}
		d.mu.Unlock()
		if !busy {
			return true, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
			return false, nil
		}
	}
}
