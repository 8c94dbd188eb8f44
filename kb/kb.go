// Package kb provides keyboard mappings for Chrome DOM Keys for use with input
// events, plus the private-use rune constants used to type special keys.
package kb

import (
	"runtime"
	"unicode"

	"github.com/chromedp/cdproto/input"
)

// Key contains information for generating a key press based off the unicode
// value.
//
// Example data for the following runes:
//
//	'\r'  '\n'  | ','  '<'    | 'a'   'A'  | '\ue012'
//	_____________________________________________________
type Key struct {
	// Code is the key code:
	//	"Enter"     | "Comma"     | "KeyA"     | "ArrowLeft"
	Code string
	// Key is the key value:
	//	"Enter"     | ","   "<"   | "a"   "A"  | "ArrowLeft"
	Key string
	// Text is the text for printable keys:
	//	"\r"  "\r"  | ","   "<"   | "a"   "A"  | ""
	Text string
	// Unmodified is the unmodified text for printable keys:
	//	"\r"  "\r"  | ","   ","   | "a"   "a"  | ""
	Unmodified string
	// Native is the native scan code.
	Native int64
	// Windows is the windows virtual key code.
	Windows int64
	// Shift indicates whether or not the Shift modifier should be sent.
	Shift bool
	// Print indicates whether or not the character is a printable character
	// (ie, should a "char" event be generated).
	Print bool
}

// Special keys, addressed with runes from the Unicode private use area so
// they can be embedded in ordinary strings passed to Input.
const (
	Null       = "\ue000"
	Cancel     = "\ue001"
	Help       = "\ue002"
	Backspace  = "\ue003"
	Tab        = "\ue004"
	Clear      = "\ue005"
	Return     = "\ue006"
	Enter      = "\ue007"
	Shift      = "\ue008"
	Control    = "\ue009"
	Alt        = "\ue00a"
	Pause      = "\ue00b"
	Escape     = "\ue00c"
	Space      = "\ue00d"
	PageUp     = "\ue00e"
	PageDown   = "\ue00f"
	End        = "\ue010"
	Home       = "\ue011"
	ArrowLeft  = "\ue012"
	ArrowUp    = "\ue013"
	ArrowRight = "\ue014"
	ArrowDown  = "\ue015"
	Insert     = "\ue016"
	Delete     = "\ue017"
	Semicolon  = "\ue018"
	Equals     = "\ue019"
	Numpad0    = "\ue01a"
	Numpad1    = "\ue01b"
	Numpad2    = "\ue01c"
	Numpad3    = "\ue01d"
	Numpad4    = "\ue01e"
	Numpad5    = "\ue01f"
	Numpad6    = "\ue020"
	Numpad7    = "\ue021"
	Numpad8    = "\ue022"
	Numpad9    = "\ue023"
	Multiply   = "\ue024"
	Add        = "\ue025"
	Separator  = "\ue026"
	Subtract   = "\ue027"
	Decimal    = "\ue028"
	Divide     = "\ue029"
	F1         = "\ue031"
	F2         = "\ue032"
	F3         = "\ue033"
	F4         = "\ue034"
	F5         = "\ue035"
	F6         = "\ue036"
	F7         = "\ue037"
	F8         = "\ue038"
	F9         = "\ue039"
	F10        = "\ue03a"
	F11        = "\ue03b"
	F12        = "\ue03c"
	Meta       = "\ue03d"
	Command    = Meta
)

// Modifier returns the modifier bit for r when r is one of Shift, Control,
// Alt or Meta.
func Modifier(r rune) (input.Modifier, bool) {
	switch string(r) {
	case Alt:
		return input.ModifierAlt, true
	case Control:
		return input.ModifierCtrl, true
	case Meta:
		return input.ModifierMeta, true
	case Shift:
		return input.ModifierShift, true
	}
	return 0, false
}

// IsSpecial reports whether s consists only of special key runes. Strings
// like that are dispatched as key events rather than inserted as text.
func IsSpecial(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 0xe000 || r > 0xe03d {
			return false
		}
	}
	return true
}

// EncodeUnidentified encodes a keyDown, char, and keyUp sequence for an
// unidentified rune.
func EncodeUnidentified(r rune) []*input.DispatchKeyEventParams {
	keyDown := input.DispatchKeyEventParams{
		Key: "Unidentified",
	}
	keyUp := keyDown
	keyDown.Type, keyUp.Type = input.KeyDown, input.KeyUp
	if unicode.IsPrint(r) {
		keyChar := keyDown
		keyChar.Type = input.KeyChar
		keyChar.Text = string(r)
		keyChar.UnmodifiedText = string(r)

		return []*input.DispatchKeyEventParams{&keyDown, &keyChar, &keyUp}
	}
	return []*input.DispatchKeyEventParams{&keyDown, &keyUp}
}

// Encode encodes a keyDown, char, and keyUp sequence for the specified rune.
func Encode(r rune) []*input.DispatchKeyEventParams {
	return EncodeWith(r, 0)
}

// EncodeWith is like Encode, but sends the given modifiers with every event.
func EncodeWith(r rune, mods input.Modifier) []*input.DispatchKeyEventParams {
	if r == '\n' {
		r = '\r'
	}
	v, ok := Keys[r]
	if !ok {
		evs := EncodeUnidentified(r)
		for _, ev := range evs {
			ev.Modifiers |= mods
		}
		return evs
	}
	keyDown := input.DispatchKeyEventParams{
		Key:                   v.Key,
		Code:                  v.Code,
		NativeVirtualKeyCode:  v.Native,
		WindowsVirtualKeyCode: v.Windows,
		Modifiers:             mods,
	}
	if runtime.GOOS == "darwin" {
		keyDown.NativeVirtualKeyCode = 0
	}
	if v.Shift {
		keyDown.Modifiers |= input.ModifierShift
	}
	keyUp := keyDown
	keyDown.Type, keyUp.Type = input.KeyDown, input.KeyUp
	// a held ctrl/alt/meta turns printable keys into shortcuts; no char event
	if v.Print && mods&^input.ModifierShift == 0 {
		keyChar := keyDown
		keyChar.Type = input.KeyChar
		keyChar.Text = v.Text
		keyChar.UnmodifiedText = v.Unmodified
		// char events carry the character itself as the scan code
		keyChar.NativeVirtualKeyCode = int64(r)
		keyChar.WindowsVirtualKeyCode = int64(r)
		return []*input.DispatchKeyEventParams{&keyDown, &keyChar, &keyUp}
	}
	return []*input.DispatchKeyEventParams{&keyDown, &keyUp}
}

// Down returns only the keyDown event for r, used to hold modifiers.
func Down(r rune) *input.DispatchKeyEventParams {
	evs := Encode(r)
	ev := *evs[0]
	ev.Type = input.KeyRawDown
	return &ev
}

// Up returns only the keyUp event for r.
func Up(r rune) *input.DispatchKeyEventParams {
	evs := Encode(r)
	return evs[len(evs)-1]
}

// Keys is the map of unicode characters to their DOM key data.
var Keys = map[rune]*Key{
	'\b': {"Backspace", "Backspace", "", "", 8, 8, false, false},
	'\t': {"Tab", "Tab", "", "", 9, 9, false, false},
	'\r': {"Enter", "Enter", "\r", "\r", 13, 13, false, true},
	' ':  {"Space", " ", " ", " ", 32, 32, false, true},
}

// special keys addressed by private use runes.
var named = []struct {
	r       string
	code    string
	key     string
	windows int64
	text    string
}{
	{Cancel, "Abort", "Cancel", 3, ""},
	{Help, "Help", "Help", 47, ""},
	{Backspace, "Backspace", "Backspace", 8, ""},
	{Tab, "Tab", "Tab", 9, ""},
	{Clear, "NumpadClear", "Clear", 12, ""},
	{Return, "Enter", "Enter", 13, "\r"},
	{Enter, "Enter", "Enter", 13, "\r"},
	{Shift, "ShiftLeft", "Shift", 16, ""},
	{Control, "ControlLeft", "Control", 17, ""},
	{Alt, "AltLeft", "Alt", 18, ""},
	{Pause, "Pause", "Pause", 19, ""},
	{Escape, "Escape", "Escape", 27, ""},
	{Space, "Space", " ", 32, " "},
	{PageUp, "PageUp", "PageUp", 33, ""},
	{PageDown, "PageDown", "PageDown", 34, ""},
	{End, "End", "End", 35, ""},
	{Home, "Home", "Home", 36, ""},
	{ArrowLeft, "ArrowLeft", "ArrowLeft", 37, ""},
	{ArrowUp, "ArrowUp", "ArrowUp", 38, ""},
	{ArrowRight, "ArrowRight", "ArrowRight", 39, ""},
	{ArrowDown, "ArrowDown", "ArrowDown", 40, ""},
	{Insert, "Insert", "Insert", 45, ""},
	{Delete, "Delete", "Delete", 46, ""},
	{Semicolon, "Semicolon", ";", 186, ";"},
	{Equals, "Equal", "=", 187, "="},
	{Multiply, "NumpadMultiply", "*", 106, "*"},
	{Add, "NumpadAdd", "+", 107, "+"},
	{Separator, "NumpadComma", ",", 108, ","},
	{Subtract, "NumpadSubtract", "-", 109, "-"},
	{Decimal, "NumpadDecimal", ".", 110, "."},
	{Divide, "NumpadDivide", "/", 111, "/"},
	{Meta, "MetaLeft", "Meta", 91, ""},
}

// punctuation on the US layout: unshifted, shifted, code, virtual key code.
var punct = []struct {
	plain, shifted rune
	code           string
	windows        int64
}{
	{'-', '_', "Minus", 189},
	{'=', '+', "Equal", 187},
	{'[', '{', "BracketLeft", 219},
	{']', '}', "BracketRight", 221},
	{'\\', '|', "Backslash", 220},
	{';', ':', "Semicolon", 186},
	{'\'', '"', "Quote", 222},
	{',', '<', "Comma", 188},
	{'.', '>', "Period", 190},
	{'/', '?', "Slash", 191},
	{'`', '~', "Backquote", 192},
}

func init() {
	for c := 'a'; c <= 'z'; c++ {
		up := unicode.ToUpper(c)
		code := "Key" + string(up)
		Keys[c] = &Key{code, string(c), string(c), string(c), int64(up), int64(up), false, true}
		Keys[up] = &Key{code, string(up), string(up), string(c), int64(up), int64(up), true, true}
	}
	digitShift := []rune(")!@#$%^&*(")
	for i, d := range "0123456789" {
		code := "Digit" + string(d)
		Keys[d] = &Key{code, string(d), string(d), string(d), int64(d), int64(d), false, true}
		s := digitShift[i]
		Keys[s] = &Key{code, string(s), string(s), string(d), int64(d), int64(d), true, true}
	}
	for _, p := range punct {
		Keys[p.plain] = &Key{p.code, string(p.plain), string(p.plain), string(p.plain), p.windows, p.windows, false, true}
		Keys[p.shifted] = &Key{p.code, string(p.shifted), string(p.shifted), string(p.plain), p.windows, p.windows, true, true}
	}
	for _, n := range named {
		r := []rune(n.r)[0]
		Keys[r] = &Key{n.code, n.key, n.text, n.text, n.windows, n.windows, false, n.text != ""}
	}
	for i := 0; i <= 9; i++ {
		r := []rune(Numpad0)[0] + rune(i)
		d := string(rune('0' + i))
		Keys[r] = &Key{"Numpad" + d, d, d, d, int64(96 + i), int64(96 + i), false, true}
	}
	for i := 1; i <= 12; i++ {
		r := []rune(F1)[0] + rune(i-1)
		name := "F" + itoa(i)
		Keys[r] = &Key{name, name, "", "", int64(111 + i), int64(111 + i), false, false}
	}
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return "1" + string(rune('0'+i-10))
}
