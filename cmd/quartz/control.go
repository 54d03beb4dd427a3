package main

import (
	"fmt"
	"os"
	"time"

	"github.com/quartzwm/quartz/internal/ipc"
)

func dialControl(args []string) (*ipc.ControlClient, int) {
	socket, err := socketPathFromEnv(flagValue(args, "--socket"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve socket path: %v\n", err)
		return nil, 1
	}
	cc, err := ipc.DialControl(socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		return nil, 1
	}
	return cc, 0
}

func runStatus(args []string) int {
	cc, code := dialControl(args)
	if cc == nil {
		return code
	}
	defer cc.Close()

	status, err := cc.GetStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		return 1
	}

	fmt.Println("Service status:")
	fmt.Printf("  Display:      %dx%d @ %dHz\n",
		status.Display.Width, status.Display.Height, status.Display.RefreshHz)
	fmt.Printf("  Uptime:       %s\n", time.Duration(status.UptimeSeconds)*time.Second)
	fmt.Printf("  Windows:      %d / %d\n", status.WindowCount, status.WindowLimit)
	fmt.Printf("  Tokens:       %d\n", status.TokenCount)
	fmt.Printf("  Monitors:     %d\n", status.MonitorCount)
	fmt.Printf("  Vsync:        %v\n", status.VsyncActive)
	fmt.Printf("  Frames drawn: %d\n", status.FramesDrawn)
	if status.LastToast != "" {
		fmt.Printf("  Last toast:   %s\n", status.LastToast)
	}
	return 0
}

func runWindows(args []string) int {
	cc, code := dialControl(args)
	if cc == nil {
		return code
	}
	defer cc.Close()

	windows, err := cc.ListWindows()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list windows: %v\n", err)
		return 1
	}
	if len(windows) == 0 {
		fmt.Println("No windows")
		return 0
	}

	for i, w := range windows {
		fmt.Printf("Window %d\n", i+1)
		fmt.Printf("  handle:     %s\n", w.Window)
		fmt.Printf("  token:      %s\n", w.Token)
		fmt.Printf("  size:       %dx%d\n", w.Params.Width, w.Params.Height)
		fmt.Printf("  position:   [%d,%d]\n", w.Params.X, w.Params.Y)
		fmt.Printf("  visibility: %v\n", w.Visible)
		fmt.Printf("  type:       %d\n", w.Params.Type)
		fmt.Printf("  flags:      %d\n", w.Params.Flags)
		fmt.Printf("  format:     %d\n", w.Params.Format)
		fmt.Printf("  surface:    %v\n", w.HasSurface)
		fmt.Printf("  input:      %v\n", w.HasInput)
		fmt.Printf("  vsync:      %s (seq %d)\n", w.Vsync, w.FrameSeq)
	}
	return 0
}

func runTokens(args []string) int {
	cc, code := dialControl(args)
	if cc == nil {
		return code
	}
	defer cc.Close()

	tokens, err := cc.ListTokens()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list tokens: %v\n", err)
		return 1
	}
	if len(tokens) == 0 {
		fmt.Println("No tokens")
		return 0
	}
	for _, t := range tokens {
		fmt.Printf("%s  type=%d display=%d visible=%v windows=%d\n",
			t.Token, t.Type, t.DisplayId, t.ClientVisible, t.WindowCount)
	}
	return 0
}

func runDisplay(args []string) int {
	cc, code := dialControl(args)
	if cc == nil {
		return code
	}
	defer cc.Close()

	info, err := cc.DisplayInfo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get display info: %v\n", err)
		return 1
	}
	fmt.Printf("Primary display: %dx%d @ %dHz\n", info.Width, info.Height, info.RefreshHz)
	return 0
}
