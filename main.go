// The main package for the pipeline executable.
package main

import (
	"github.com/JakeFAU/music-content-pipeline/cmd"
)

func main() {
	cmd.Execute()
}
