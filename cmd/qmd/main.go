// qmd is a hybrid search engine over local Markdown collections, built to
// serve AI agents as a long-term memory backend.
package main

import (
	"os"

	"github.com/uf-hy/qmdr/cmd/qmd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
