// The main package for the tickercrawl executable.
package main

import "github.com/JakeFAU/tickercrawl/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
