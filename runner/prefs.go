package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PatchPreferences merges prefs into <dir>/Default/Preferences. Dotted
// names are splayed into nested objects. The crash bubble is suppressed by
// marking the last exit as clean.
func PatchPreferences(dir string, prefs map[string]interface{}) error {
	path := filepath.Join(dir, "Default", "Preferences")
	doc, err := readJSONFile(path)
	if err != nil {
		return err
	}

	for name, value := range prefs {
		setDotted(doc, name, value)
	}
	setDotted(doc, "profile.exit_type", "Normal")
	setDotted(doc, "profile.exited_cleanly", true)

	return writeJSONFile(path, doc)
}

// PatchLocalState rewrites browser.enabled_labs_experiments in
// <dir>/Local State. Existing experiments not named in flags are kept.
func PatchLocalState(dir string, flags map[string]string) error {
	path := filepath.Join(dir, "Local State")
	doc, err := readJSONFile(path)
	if err != nil {
		return err
	}

	var out []string
	if b, ok := doc["browser"].(map[string]interface{}); ok {
		if list, ok := b["enabled_labs_experiments"].([]interface{}); ok {
			for _, v := range list {
				s, _ := v.(string)
				name, _, _ := strings.Cut(s, "@")
				if _, replaced := flags[name]; s != "" && !replaced {
					out = append(out, s)
				}
			}
		}
	}
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := flags[name]; v != "" {
			out = append(out, name+"@"+v)
		} else {
			out = append(out, name)
		}
	}

	setDotted(doc, "browser.enabled_labs_experiments", out)
	return writeJSONFile(path, doc)
}

// setDotted assigns value at the dotted path, replacing non-object
// intermediates.
func setDotted(doc map[string]interface{}, name string, value interface{}) {
	parts := strings.Split(name, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func readJSONFile(path string) (map[string]interface{}, error) {
	doc := make(map[string]interface{})
	buf, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return doc, nil
	case err != nil:
		return nil, err
	case len(buf) == 0:
		return doc, nil
	}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func writeJSONFile(path string, doc map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o600)
}
