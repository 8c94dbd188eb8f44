//go:build darwin

package runner

const (
	// DefaultChromePath is the default path to use for Chrome if the
	// executable is not in $PATH.
	DefaultChromePath = `/Applications/Google Chrome.app/Contents/MacOS/Google Chrome`
)

// DefaultChromeNames are the default Chrome executable names to look for in
// $PATH.
var DefaultChromeNames = []string{
	`/Applications/Chromium.app/Contents/MacOS/Chromium`,
	`/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge`,
	`/Applications/Brave Browser.app/Contents/MacOS/Brave Browser`,
}
