package runner

import (
	"fmt"
	"os/exec"
	"strings"
)

// CommandLineOption is a runner command line option.
//
// see: http://peter.sh/experiments/chromium-command-line-switches/
type CommandLineOption func(map[string]interface{}) error

// Flag is a generic command line option to pass a name=value flag to
// Chrome. A false or nil value removes the flag.
func Flag(name string, value interface{}) CommandLineOption {
	return func(m map[string]interface{}) error {
		m[strings.TrimPrefix(name, "--")] = value
		return nil
	}
}

// Arg appends a raw argument, such as "--foo=bar" or "--enable-logging".
// Arguments of the form --name[=value] are stored as flags so they can be
// overridden later.
func Arg(arg string) CommandLineOption {
	return func(m map[string]interface{}) error {
		if strings.HasPrefix(arg, "--") {
			name, value, found := strings.Cut(arg[2:], "=")
			if cliOptRE.MatchString(name) {
				if found {
					m[name] = value
				} else {
					m[name] = true
				}
				return nil
			}
		}
		raw, _ := m[keyArgs].([]string)
		m[keyArgs] = append(raw, arg)
		return nil
	}
}

// ExecPath is a command line option to set the exec path.
func ExecPath(path string) CommandLineOption {
	return Flag(keyExecPath, path)
}

// UserDataDir is the command line option to set the user data dir.
//
// Note: set this option to manually set the profile directory used by Chrome.
// When this is not set, then a temporary directory is created and removed by
// Cleanup.
func UserDataDir(dir string) CommandLineOption {
	return Flag("user-data-dir", dir)
}

// ProxyServer is the command line option to set the outbound proxy server.
func ProxyServer(proxy string) CommandLineOption {
	return Flag("proxy-server", proxy)
}

// WindowSize is the command line option to set the initial window size.
func WindowSize(width, height int) CommandLineOption {
	return Flag("window-size", fmt.Sprintf("%d,%d", width, height))
}

// UserAgent is the command line option to set the default User-Agent
// header.
func UserAgent(userAgent string) CommandLineOption {
	return Flag("user-agent", userAgent)
}

// RemoteDebuggingPort is the command line option to set the remote
// debugging port.
func RemoteDebuggingPort(port int) CommandLineOption {
	return func(m map[string]interface{}) error {
		if port <= 0 || port > 65535 {
			return ErrInvalidPort
		}
		m["remote-debugging-port"] = port
		return nil
	}
}

// NoSandbox is the Chrome command line option to disable the sandbox.
func NoSandbox(m map[string]interface{}) error {
	return Flag("no-sandbox", true)(m)
}

// Headless is the command line option to run in headless mode.
func Headless(m map[string]interface{}) error {
	return Flag("headless", true)(m)
}

// Incognito is the command line option to start in incognito mode.
func Incognito(m map[string]interface{}) error {
	return Flag("incognito", true)(m)
}

// DisableGPU is the command line option to disable the GPU process.
func DisableGPU(m map[string]interface{}) error {
	return Flag("disable-gpu", true)(m)
}

// URL is the command line option to add a URL to open on process start.
//
// Note: this can be specified multiple times, and each URL will be opened in a
// new tab.
func URL(urlstr string) CommandLineOption {
	return func(m map[string]interface{}) error {
		var urls []string
		if u, ok := m[keyURLs]; ok {
			urls, ok = u.([]string)
			if !ok {
				return ErrInvalidURLOpts
			}
		}
		m[keyURLs] = append(urls, urlstr)
		return nil
	}
}

// Extension adds an unpacked extension directory.
func Extension(dir string) CommandLineOption {
	return func(m map[string]interface{}) error {
		exts, _ := m[keyExts].([]string)
		m[keyExts] = append(exts, dir)
		return nil
	}
}

// Pref sets a profile preference before launch. Dotted names address
// nested keys, e.g. "download.default_directory".
func Pref(name string, value interface{}) CommandLineOption {
	return func(m map[string]interface{}) error {
		prefs, _ := m[keyPrefs].(map[string]interface{})
		if prefs == nil {
			prefs = make(map[string]interface{})
			m[keyPrefs] = prefs
		}
		prefs[name] = value
		return nil
	}
}

// Experiment enables a chrome://flags experiment. An empty value enables
// the flag as is; otherwise the entry is written as name@value.
func Experiment(name, value string) CommandLineOption {
	return func(m map[string]interface{}) error {
		flags, _ := m[keyFlags].(map[string]string)
		if flags == nil {
			flags = make(map[string]string)
			m[keyFlags] = flags
		}
		flags[name] = value
		return nil
	}
}

// CmdOpt is a command line option to modify the underlying exec.Cmd
// prior to the call to exec.Cmd.Start in Run.
func CmdOpt(o func(*exec.Cmd) error) CommandLineOption {
	return func(m map[string]interface{}) error {
		var opts []func(*exec.Cmd) error
		if e, ok := m[keyCmdOpts]; ok {
			opts, ok = e.([]func(*exec.Cmd) error)
			if !ok {
				return ErrInvalidCmdOpts
			}
		}
		m[keyCmdOpts] = append(opts, o)
		return nil
	}
}
