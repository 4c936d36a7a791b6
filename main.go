// The main package for the followcrawl executable.
package main

import (
	"github.com/JakeFAU/followcrawl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
