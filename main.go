// The main package for the greenqueue executable.
package main

import (
	"github.com/Impactstory/oadoi/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
