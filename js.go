package drission

import (
	_ "embed"
)

var (
	// findXPathJS evaluates an XPath expression with the receiver as the
	// context node. Element results are returned as nodes, text, attribute
	// and comment results as their values, scalar results as one element.
	//go:embed js/findXPath.js
	findXPathJS string

	// findCSSJS returns querySelectorAll of the receiver as an array.
	//go:embed js/findCSS.js
	findCSSJS string

	// relativesJS walks an XPath axis from the receiver, drops whitespace
	// text nodes and keeps the nodes also matched by an optional absolute
	// filter expression.
	//go:embed js/relatives.js
	relativesJS string

	// textJS returns innerText, whitespace normalized unless raw is set.
	//go:embed js/text.js
	textJS string

	//go:embed js/property.js
	propertyJS string

	//go:embed js/style.js
	styleJS string

	// rectJS returns the viewport rectangle of the receiver plus the window
	// metrics needed for page and screen coordinates, or null when the
	// receiver has no layout box.
	//go:embed js/rect.js
	rectJS string

	//go:embed js/states.js
	statesJS string

	//go:embed js/click.js
	clickJS string

	//go:embed js/scrollIntoView.js
	scrollIntoViewJS string

	// setValueJS sets value through the native setter so frameworks see the
	// change, then fires input and change.
	//go:embed js/setValue.js
	setValueJS string

	//go:embed js/contains.js
	containsJS string

	//go:embed js/stringify.js
	stringifyJS string

	// selectJS toggles the options of a select list matched by text, value,
	// 1-based index or all of them, returning the number of options hit or
	// -1 for other elements.
	//go:embed js/select.js
	selectJS string

	//go:embed js/selectedOptions.js
	selectedOptionsJS string

	// storageJS reads, writes or clears local or session storage.
	//go:embed js/storage.js
	storageJS string
)
