//go:build windows

package runner

// KillProcessGroup does nothing on Windows.
func KillProcessGroup(map[string]interface{}) error {
	return nil
}

// ForceKill does nothing on Windows.
func ForceKill(map[string]interface{}) error {
	return nil
}
