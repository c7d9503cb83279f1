// Command boxsync keeps a local replica of the BoxBoard collections in sync
// with the remote store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/boxboard/boxsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
