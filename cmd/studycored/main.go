// Command studycored runs the study assistant core as a local HTTP daemon and
// offers a few offline utilities around it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "studycored:", err)
		os.Exit(1)
	}
}
