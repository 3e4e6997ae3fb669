package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("tilde broker %s\n", Version)
		return true
	case "probe":
		return cliProbe(args[1:], os.Stdout)
	default:
		return false
	}
}

// cliProbe issues the plain-HTTP name availability check against a running
// broker: a GET on the session endpoint without upgrade headers answers
// 200 when the name could be claimed and 400 when it could not.
func cliProbe(args []string, out io.Writer) bool {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	addr := fs.String("addr", "localhost:8080", "broker address")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: broker probe [-addr <host:port>] <name>")
		os.Exit(1)
	}
	name := fs.Arg(0)

	probeURL := url.URL{
		Scheme:   "http",
		Host:     *addr,
		Path:     "/",
		RawQuery: url.Values{"name": {name}}.Encode(),
	}
	resp, err := http.Get(probeURL.String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error probing broker: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Fprintf(out, "name %q is available\n", name)
	case http.StatusBadRequest:
		fmt.Fprintf(out, "name %q is not available\n", name)
	default:
		fmt.Fprintf(os.Stderr, "unexpected response from broker: %s\n", resp.Status)
		os.Exit(1)
	}
	return true
}
