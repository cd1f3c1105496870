// Command portal hosts the tracker's remote data portal and administers
// its roles and projects through the same portal.
package main

import (
	"fmt"
	"os"

	"entityportal/internal/portal"
)

func main() {
	if err := newRootCommand(portal.NewViper()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
