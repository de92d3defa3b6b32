package cli

import (
	"fmt"
	"io"
	"time"
)

// PrintTiming prints a startup timing line such as "library init: 41.2ms"
func PrintTiming(w io.Writer, label string, d time.Duration) {
	fmt.Fprintf(w, "%s: %s\n", label, d.Round(time.Microsecond))
}

// PrintError prints a fatal error message
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}
