package runner

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// newHeadlessVersion is the first major version shipping --headless=new.
const newHeadlessVersion = 112

var versionRE = regexp.MustCompile("[^0-9]+([0-9]+)")

// MajorVersion returns the major component of the version number of the
// specified program's --version output. E.g: "Google Chrome 59.foo.bar" => 59.
func MajorVersion(path string) (int, error) {
	version, err := exec.Command(path, "--version").CombinedOutput()
	if err != nil {
		return 0, err
	}
	return parseMajorVersion(version)
}

func parseMajorVersion(version []byte) (int, error) {
	ret := versionRE.FindSubmatch(version)
	if len(ret) < 2 {
		return 0, fmt.Errorf("no version number found in version string %q", version)
	}
	return strconv.Atoi(string(ret[1]))
}
