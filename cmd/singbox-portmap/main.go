package main

import (
	"fmt"
	"io"
	"os"
)

const usage = `usage: singbox-portmap <command> [flags]

commands:
  serve        run the HTTP API
  generate     write config.json from a node list
  healthcheck  probe a running server's /healthz (exit 0 when healthy)

run "singbox-portmap <command> -h" for the flags of a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "serve":
		return runServe(args[1:], stderr)
	case "generate":
		return runGenerate(args[1:], stdin, stdout, stderr)
	case "healthcheck":
		return runHealthcheckCmd(args[1:], stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}
