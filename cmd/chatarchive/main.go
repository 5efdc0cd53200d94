// Command chatarchive records chat streams into minute files and
// reconciles the captures of several nodes into one archive.
//
// Usage:
//
//	chatarchive ingest --channel somechan ./events.jsonl
//	chatarchive reconcile --config ./chatarchive.yaml
//	chatarchive merge --root ./archive --channel somechan
//	chatarchive verify --root ./archive
//	chatarchive history --config ./chatarchive.yaml --channel somechan
package main

import (
	"os"

	"github.com/roach88/chatarchive/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
