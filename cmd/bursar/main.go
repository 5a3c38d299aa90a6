// Command bursar is the operator tool of the Bursar engine: fee lookups,
// voucher numbers, result imports, rankings and summaries against a
// configured Record Store.
package main

import (
	"fmt"
	"os"

	"github.com/xraph/bursar/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
