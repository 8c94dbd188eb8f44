// Package drission drives Chromium based browsers over the Chrome DevTools
// Protocol, page by page and element by element.
//
// A Browser attaches to (or launches) a browser and hands out Tabs. Each Tab
// keeps its own connection, tracks the ready state of its document and
// finds Elements with a compact locator language (see package locator):
//
//	b, err := drission.Connect(ctx, drission.WithAddress("127.0.0.1:9222"))
//	if err != nil {
//		// ...
//	}
//	tab, err := b.LatestTab(ctx)
//	if err != nil {
//		// ...
//	}
//	if _, err := tab.Get(ctx, "https://example.com"); err != nil {
//		// ...
//	}
//	link, err := tab.Ele(ctx, "tag:a@href:iana")
//	if err != nil {
//		// ...
//	}
//	_, err = link.Click(ctx)
//
// Frames, shadow roots, dialogs, downloads and network capture hang off the
// tab; waits, setters, states and geometry hang off tabs and elements as
// Wait(), Set(), States() and Rect().
package drission
