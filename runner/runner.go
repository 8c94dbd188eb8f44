// Package runner launches a Chromium-family browser with a remote debugging
// port.
package runner

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultUserDataDirPrefix is the default user data directory prefix.
	DefaultUserDataDirPrefix = "drission-runner."

	// DefaultPort is the default remote debugging port.
	DefaultPort = 9222
)

// Error is a runner error.
type Error string

// Error satisfies the error interface.
func (err Error) Error() string {
	return string(err)
}

// Error values.
const (
	// ErrAlreadyStarted is the already started error.
	ErrAlreadyStarted Error = "already started"

	// ErrAlreadyWaiting is the already waiting error.
	ErrAlreadyWaiting Error = "already waiting"

	// ErrNotStarted is returned by Wait and Kill before Start.
	ErrNotStarted Error = "not started"

	// ErrInvalidURLOpts is the invalid url-opts error.
	ErrInvalidURLOpts Error = "invalid url-opts"

	// ErrInvalidCmdOpts is the invalid cmd-opts error.
	ErrInvalidCmdOpts Error = "invalid cmd-opts"

	// ErrInvalidExecPath is the invalid exec-path error.
	ErrInvalidExecPath Error = "invalid exec-path"

	// ErrInvalidPort is the invalid remote-debugging-port error.
	ErrInvalidPort Error = "invalid remote-debugging-port"
)

// internal option keys, never passed on the command line
const (
	keyExecPath = "exec-path"
	keyCmdOpts  = "cmd-opts"
	keyURLs     = "url-opts"
	keyPrefs    = "prefs-opts"
	keyFlags    = "flags-opts"
	keyExts     = "extension-opts"
	keyArgs     = "raw-args"
)

// DefaultFlags are applied unless overridden.
var DefaultFlags = map[string]interface{}{
	"no-first-run":              true,
	"no-default-browser-check":  true,
	"disable-suggestions-ui":    true,
	"disable-infobars":          true,
	"disable-popup-blocking":    true,
	"hide-crash-restore-bubble": true,
	"remote-allow-origins":      "*",
	"disable-features":          "PrivacySandboxSettings4",
	"remote-debugging-port":     DefaultPort,
}

// Runner holds information about a running Chrome process.
type Runner struct {
	opts    map[string]interface{}
	cmd     *exec.Cmd
	waiting bool
	tmpDir  string
	rw      sync.RWMutex
	log     logrus.FieldLogger
}

// New creates a runner using the supplied command line options.
func New(opts ...CommandLineOption) (*Runner, error) {
	cliOpts := make(map[string]interface{})
	for _, o := range opts {
		if err := o(cliOpts); err != nil {
			return nil, err
		}
	}

	if _, ok := cliOpts[keyExecPath]; !ok {
		cliOpts[keyExecPath] = LookChromeNames()
	}
	for k, v := range DefaultFlags {
		if _, ok := cliOpts[k]; !ok {
			cliOpts[k] = v
		}
	}

	// add KillProcessGroup and ForceKill if no other cmd opts provided
	if _, ok := cliOpts[keyCmdOpts]; !ok {
		for _, o := range []CommandLineOption{KillProcessGroup, ForceKill} {
			if err := o(cliOpts); err != nil {
				return nil, err
			}
		}
	}

	return &Runner{
		opts: cliOpts,
		log:  logrus.StandardLogger(),
	}, nil
}

// SetLogger sets the logger used for process lifecycle messages.
func (r *Runner) SetLogger(l logrus.FieldLogger) {
	r.log = l
}

// cliOptRE is a regular expression to validate a chrome cli option.
var cliOptRE = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Args generates the command line arguments for the browser, sorted by flag
// name with the start URLs last.
func (r *Runner) Args() []string {
	var opts []string
	var urls []string

	keys := make([]string, 0, len(r.opts))
	for k := range r.opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := r.opts[k]
		if v == nil {
			continue
		}
		switch k {
		case keyURLs:
			urls = v.([]string)
			continue
		case keyArgs:
			opts = append(opts, v.([]string)...)
			continue
		case keyExts:
			opts = append(opts, "--load-extension="+strings.Join(v.([]string), ","))
			continue
		}
		if !cliOptRE.MatchString(k) || k == keyExecPath || k == keyCmdOpts {
			continue
		}

		switch z := v.(type) {
		case bool:
			if z {
				opts = append(opts, "--"+k)
			}
		case string:
			opts = append(opts, "--"+k+"="+z)
		default:
			opts = append(opts, "--"+k+"="+fmt.Sprintf("%v", v))
		}
	}

	if urls == nil {
		urls = []string{"about:blank"}
	}
	return append(opts, urls...)
}

// Start starts the browser process. The process is killed when ctx is
// done.
func (r *Runner) Start(ctx context.Context, opts ...string) error {
	r.rw.Lock()
	defer r.rw.Unlock()

	if r.cmd != nil {
		return ErrAlreadyStarted
	}

	if _, ok := r.opts["user-data-dir"]; !ok {
		dir, err := os.MkdirTemp("", DefaultUserDataDirPrefix+uuid.NewString()[:8]+".")
		if err != nil {
			return err
		}
		r.opts["user-data-dir"] = dir
		r.tmpDir = dir
	}
	dir := r.opts["user-data-dir"].(string)

	if prefs, ok := r.opts[keyPrefs].(map[string]interface{}); ok && len(prefs) > 0 {
		if err := PatchPreferences(dir, prefs); err != nil {
			return err
		}
	}
	if flags, ok := r.opts[keyFlags].(map[string]string); ok && len(flags) > 0 {
		if err := PatchLocalState(dir, flags); err != nil {
			return err
		}
	}

	execPath, ok := r.opts[keyExecPath].(string)
	if !ok || execPath == "" {
		return ErrInvalidExecPath
	}
	if h, ok := r.opts["headless"].(bool); ok && h {
		if v, err := MajorVersion(execPath); err == nil && v >= newHeadlessVersion {
			r.opts["headless"] = "new"
		}
	}

	cmd := exec.CommandContext(ctx, execPath, append(r.Args(), opts...)...)
	if cmdOpts, ok := r.opts[keyCmdOpts]; ok {
		for _, co := range cmdOpts.([]func(*exec.Cmd) error) {
			if err := co(cmd); err != nil {
				return err
			}
		}
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	r.cmd = cmd
	r.log.WithField("pid", cmd.Process.Pid).Debugf("started %s", execPath)
	return nil
}

// Wait waits for the previously started process to terminate, returning
// any encountered error.
func (r *Runner) Wait() error {
	r.rw.Lock()
	if r.cmd == nil {
		r.rw.Unlock()
		return ErrNotStarted
	}
	if r.waiting {
		r.rw.Unlock()
		return ErrAlreadyWaiting
	}
	r.waiting = true
	cmd := r.cmd
	r.rw.Unlock()

	defer func() {
		r.rw.Lock()
		r.waiting = false
		r.rw.Unlock()
	}()
	return cmd.Wait()
}

// Kill terminates the process.
func (r *Runner) Kill() error {
	r.rw.RLock()
	cmd := r.cmd
	r.rw.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return ErrNotStarted
	}
	// osx applications do not exit on SIGKILL of a helper, signal the
	// main process first
	if runtime.GOOS == "darwin" {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	return cmd.Process.Kill()
}

// PID returns the process id, or 0 before Start.
func (r *Runner) PID() int {
	r.rw.RLock()
	defer r.rw.RUnlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// Port returns the port the process was launched with.
func (r *Runner) Port() int {
	switch p := r.opts["remote-debugging-port"].(type) {
	case int:
		return p
	case string:
		n, _ := strconv.Atoi(p)
		return n
	}
	return DefaultPort
}

// Address returns the debugging address.
func (r *Runner) Address() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(r.Port()))
}

// UserDataDir returns the profile directory.
func (r *Runner) UserDataDir() string {
	s, _ := r.opts["user-data-dir"].(string)
	return s
}

// Cleanup removes a temporary profile directory created by Start. The
// browser may hold files for a while after exit, so removal is retried.
func (r *Runner) Cleanup(ctx context.Context) error {
	r.rw.RLock()
	dir := r.tmpDir
	r.rw.RUnlock()
	if dir == "" {
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 25), ctx)
	return backoff.Retry(func() error {
		return os.RemoveAll(dir)
	}, b)
}

// Run starts a new runner, using the provided context and command line
// options.
func Run(ctx context.Context, opts ...CommandLineOption) (*Runner, error) {
	r, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err = r.Start(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// PortInUse reports whether something listens on addr.
func PortInUse(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 300*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// FreePort returns a port nothing listens on, starting at from.
func FreePort(from int) (int, error) {
	for p := from; p < from+100 && p < 65536; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p)))
		if err != nil {
			continue
		}
		l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in [%d, %d)", from, from+100)
}

// LookChromeNames looks for the platform's DefaultChromeNames and any
// additional names using exec.LookPath, returning the first encountered
// location or the platform's DefaultChromePath if no names are found on the
// path.
func LookChromeNames(additional ...string) string {
	for _, p := range append(additional, DefaultChromeNames...) {
		path, err := exec.LookPath(p)
		if err == nil {
			return path
		}
	}
	return DefaultChromePath
}
