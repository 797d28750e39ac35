// Rfsurveyctl is the command-line client for inspecting a running rfsurveyd
// instance. It connects over HTTP and WebSocket to query status and stream
// live events from the agent's telemetry surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/cuswiftpass/rf-survey/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:9090", "rfsurveyd telemetry URL")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,capture)")
	)

	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd := pflag.Arg(0); cmd {
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  rfsurveyctl — RF survey agent inspection CLI

  USAGE
    rfsurveyctl [flags] <command>

  COMMANDS
    status          Show agent state, sweep configuration, and pipeline depth
    version         Show agent build information
    watch           Stream live events from the agent (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Agent telemetry URL (default: http://127.0.0.1:9090)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  EXAMPLES
    rfsurveyctl status
    rfsurveyctl --json status
    rfsurveyctl --host http://10.0.0.12:9090 watch
    rfsurveyctl --filter state,capture watch

`)
}
