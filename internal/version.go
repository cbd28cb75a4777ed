package internal

import (
	"fmt"
	"strconv"
	"time"
)

var (
	commitVersion string = "v0.1.0" // updated during build
	commitDate    string = ""       // epoch seconds, filled in during build
)

// GetVersion returns the build version plus the commit date when one was
// stamped in.
func GetVersion() string {
	msg := commitVersion
	if commitDate != "" {
		seconds, _ := strconv.Atoi(commitDate)
		t := time.Unix(int64(seconds), 0)
		msg += fmt.Sprintf(", date: %s", t.Format("2006-01-02"))
	}
	return msg
}

// CheckVersion prints the version when asked to.
func CheckVersion(printVersion bool) {
	if printVersion {
		PrintVersion()
	}
}

// PrintVersion prints the version to stdout.
func PrintVersion() {
	fmt.Printf("%s\n", GetVersion())
}
