// Command raiconnectd is the CLI harness exercising C7's control.Plane
// directly (no IPC), grounded on the teacher's example/main.go: load a
// bootstrap config, wire the proxy, serve until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/rai-connect/raiproxy/internal/config"
	"github.com/rai-connect/raiproxy/internal/control"
)

func main() {
	configPath := flag.String("config", "", "path to raiconnectd.yaml (defaults to ./raiconnectd.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}

	plane := control.New()
	if err := plane.Start(cfg); err != nil {
		fatal("start: %v", err)
	}
	printStatus(plane)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Println(color.YellowString("running, press ctrl-c to stop"))
	if err := plane.RunUntilCancelled(ctx); err != nil {
		fatal("stop: %v", err)
	}
	printStatus(plane)
}

func printStatus(p *control.Plane) {
	st := p.Status()
	var stateColor func(a ...any) string
	switch st.State {
	case control.Running:
		stateColor = color.New(color.FgGreen, color.Bold).SprintFunc()
	case control.Failed:
		stateColor = color.New(color.FgRed, color.Bold).SprintFunc()
	default:
		stateColor = color.New(color.FgYellow).SprintFunc()
	}

	fmt.Printf("rai-connect: %s\n", stateColor(string(st.State)))
	fmt.Printf("  requests proxied:   %d\n", st.Counters.RequestsProxied)
	fmt.Printf("  beatmaps downloaded: %d\n", st.Counters.BeatmapsDownloaded)
	fmt.Printf("  bancho packets injected: %d\n", st.Counters.BanchoPacketsInjected)
	if st.LastError != "" {
		fmt.Printf("  last error: %s\n", color.RedString(st.LastError))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.RedString(format, args...))
	time.Sleep(50 * time.Millisecond) // let any in-flight log line flush before exit
	os.Exit(1)
}
