package build

import (
	"fmt"
	"os"
	"runtime/debug"
)

// Critical is called when an invariant the scheduler relies on does not
// hold: a non-finite priority reaches RequestChunk, a tier=RECENT request is
// made, a remove is attempted on a chunk not enqueued, or any other
// programmer error spec.md §7 classifies as "fail fast." In the testing
// release it panics unconditionally; otherwise it prints a stack trace and
// only panics if DEBUG is set.
func Critical(v ...interface{}) {
	s := "Critical error: " + fmt.Sprintln(v...) + "this indicates a scheduler invariant violation\n"
	if Release != "testing" {
		debug.PrintStack()
		os.Stderr.WriteString(s)
	}
	if DEBUG || Release == "testing" {
		panic(s)
	}
}
