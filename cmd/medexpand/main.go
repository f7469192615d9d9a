// Package main provides the medexpand CLI.
//
// Usage:
//
//	medexpand [flags] <command> [args]
//
// Commands:
//
//	train   - fit the projection head on the latest processed snapshot
//	expand  - expand the abbreviations in one sentence
//	serve   - answer expansion requests over HTTP
//
// Configuration is read from the file given by --config, then from
// MEDEXPAND_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/crimson-sun/medexpand/cmd/medexpand/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
