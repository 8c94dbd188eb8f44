package drission

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/chromedp/drission/runner"
)

// BrowserOption is a browser option.
type BrowserOption = func(*Browser)

// WithAddress sets the debugging address, host:port. Defaults to
// 127.0.0.1:9222.
func WithAddress(addr string) BrowserOption {
	return func(b *Browser) {
		b.address = addr
	}
}

// WithExistingOnly attaches to a running browser and never launches one.
func WithExistingOnly() BrowserOption {
	return func(b *Browser) {
		b.existingOnly = true
	}
}

// WithRunnerOptions adds command line options used when a browser has to be
// launched.
func WithRunnerOptions(opts ...runner.CommandLineOption) BrowserOption {
	return func(b *Browser) {
		b.runnerOpts = append(b.runnerOpts, opts...)
	}
}

// WithBrowserPath sets the executable launched when no browser answers.
func WithBrowserPath(path string) BrowserOption {
	return WithRunnerOptions(runner.ExecPath(path))
}

// WithUserDataDir sets the profile directory of a launched browser.
func WithUserDataDir(dir string) BrowserOption {
	return WithRunnerOptions(runner.UserDataDir(dir))
}

// WithHeadless launches the browser headless.
func WithHeadless() BrowserOption {
	return WithRunnerOptions(runner.Headless)
}

// WithArguments passes raw command line arguments ("--flag=value") to a
// launched browser.
func WithArguments(args ...string) BrowserOption {
	opts := make([]runner.CommandLineOption, 0, len(args))
	for _, a := range args {
		opts = append(opts, runner.Arg(a))
	}
	return WithRunnerOptions(opts...)
}

// WithProxy sets the proxy server of a launched browser.
func WithProxy(proxy string) BrowserOption {
	return WithRunnerOptions(runner.ProxyServer(proxy))
}

// WithDownloadPath sets the default directory downloads are moved to.
func WithDownloadPath(dir string) BrowserOption {
	return func(b *Browser) {
		b.downloadPath = dir
	}
}

// WithTmpPath sets the directory the browser saves downloads to before they
// are moved.
func WithTmpPath(dir string) BrowserOption {
	return func(b *Browser) {
		b.tmpPath = dir
	}
}

// WithTimeouts sets the default timeouts of every tab. Zero fields keep the
// defaults.
func WithTimeouts(t Timeouts) BrowserOption {
	return func(b *Browser) {
		b.timeouts = t.merge(DefaultTimeouts())
	}
}

// WithLoadMode sets the default load mode of every tab.
func WithLoadMode(mode LoadMode) BrowserOption {
	return func(b *Browser) {
		switch mode {
		case LoadNormal, LoadEager, LoadNone:
			b.loadMode = mode
		}
	}
}

// WithRetry sets how often Tab.Get retries a failed navigation and how long
// it pauses between attempts.
func WithRetry(times int, interval time.Duration) BrowserOption {
	return func(b *Browser) {
		if times >= 0 {
			b.retryTimes = times
		}
		if interval > 0 {
			b.retryInterval = interval
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) BrowserOption {
	return func(b *Browser) {
		b.log = entry(l)
	}
}

// WithSettings shares a Settings value between browsers.
func WithSettings(s *Settings) BrowserOption {
	return func(b *Browser) {
		b.settings = s
	}
}

// WithRegistry sets the registry the browser is deduplicated in.
func WithRegistry(r *Registry) BrowserOption {
	return func(b *Browser) {
		b.registry = r
	}
}

// WithFS sets the filesystem downloads are moved on.
func WithFS(fs afero.Fs) BrowserOption {
	return func(b *Browser) {
		b.fs = fs
	}
}
