package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/quartzwm/quartz/internal/runtimepath"
	"github.com/quartzwm/quartz/internal/tui"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "service":
		os.Exit(runService(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "windows":
		os.Exit(runWindows(os.Args[2:]))
	case "tokens":
		os.Exit(runTokens(os.Args[2:]))
	case "display":
		os.Exit(runDisplay(os.Args[2:]))
	case "demo":
		os.Exit(runDemo(os.Args[2:]))
	case "top":
		os.Exit(runTop(os.Args[2:]))
	case "mcp":
		os.Exit(runMCP(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: quartz <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  service             Start the window service (foreground)")
	fmt.Fprintln(w, "  status              Show service status")
	fmt.Fprintln(w, "  windows             List windows in z-order")
	fmt.Fprintln(w, "  tokens              List window tokens")
	fmt.Fprintln(w, "  display             Show display geometry")
	fmt.Fprintln(w, "  demo                Run a sample client window")
	fmt.Fprintln(w, "  top                 Open the live service monitor")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print effective configuration")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  mcp serve           Start MCP server (stdio transport)")
}

// socketPathFromEnv resolves the control socket, honoring an explicit
// override.
func socketPathFromEnv(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return runtimepath.SocketPath()
}

func runTop(args []string) int {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "top requires an interactive terminal (stdin/stdout must be TTYs)")
		return 1
	}
	socket, err := socketPathFromEnv(flagValue(args, "--socket"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve socket path: %v\n", err)
		return 1
	}
	if err := tui.Run(socket); err != nil {
		fmt.Fprintf(os.Stderr, "Monitor failed: %v\n", err)
		return 1
	}
	return 0
}

// flagValue extracts "--name value" or "--name=value" from args.
func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
		if len(arg) > len(name)+1 && arg[:len(name)+1] == name+"=" {
			return arg[len(name)+1:]
		}
	}
	return ""
}
