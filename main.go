// Flightcast is a commit-reveal forecast service for flight events.
package main

import (
	"github.com/volarelabs/flightcast/cmd"
)

func main() {
	cmd.Execute()
}
