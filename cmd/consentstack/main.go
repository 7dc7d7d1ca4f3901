// Command consentstack compiles and deploys consent-recording API stacks.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/consentstack/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Commands report their own failures; anything else (bad flags,
	// unknown commands) still needs printing.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
