package logging

import "os"

// newStdoutSyncer returns the sink New writes log lines to: standard
// output.
func newStdoutSyncer() *os.File {
	return os.Stdout
}
