// Package banner prints the startup banner and carries the build version.
package banner

import (
	"fmt"
	"io"
)

// Version is the queueworker release.
const Version = "1.0.0"

// Print writes the banner with the version and the consumed queue.
func Print(w io.Writer, queue string) {
	banner := `
  ____                       _      __         __
 / __ \__ _____ __ _____ ___| | /| / /__  ____/ /_____ ____
/ /_/ / // / -_) // / -_)___/ |/ |/ / _ \/ __/  '_/ -_) __/
\___\_\_,_/\__/\_,_/\__/    |__/|__/\___/_/ /_/\_\\__/_/
                              v%s - consuming %q
`
	fmt.Fprintf(w, banner, Version, queue)
	fmt.Fprintln(w, "------------------------------------------------")
}
