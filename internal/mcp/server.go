// Package mcp exposes the service's control plane as MCP tools so agent
// tooling can inspect the window system.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quartzwm/quartz/internal/ipc"
	"github.com/quartzwm/quartz/internal/wire"
)

const (
	ServerName    = "quartz"
	ServerVersion = "0.1.0"
)

// Server is the MCP server bridging to the window service.
type Server struct {
	mcpServer  *mcpsdk.Server
	socketPath string
}

// NewServer builds the MCP server talking to the given control socket.
func NewServer(socketPath string) *Server {
	s := &Server{socketPath: socketPath}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on stdio, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "wm_status",
		Description: "Get the window service status: window/token counts, vsync state, frames drawn, last toast and display geometry.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "wm_list_windows",
		Description: "List every window in z-order with its token, layout params, visibility, surface/input presence and vsync request.",
	}, s.handleListWindows)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "wm_list_tokens",
		Description: "List registered window tokens with type, display, client visibility and window count.",
	}, s.handleListTokens)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "wm_display_info",
		Description: "Get the primary display geometry and refresh rate.",
	}, s.handleDisplayInfo)
}

// dial opens a fresh control connection per call; tool invocations are
// rare and the service is local.
func (s *Server) dial() (*ipc.ControlClient, error) {
	cc, err := ipc.DialControl(s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("window service unreachable: %w", err)
	}
	return cc, nil
}

// StatusInput is empty; the tool takes no arguments.
type StatusInput struct{}

// StatusOutput mirrors the control-plane status snapshot.
type StatusOutput struct {
	Status wire.StatusData `json:"status"`
}

func (s *Server) handleStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	cc, err := s.dial()
	if err != nil {
		return nil, StatusOutput{}, err
	}
	defer cc.Close()

	status, err := cc.GetStatus()
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{Status: *status}, nil
}

// ListWindowsInput is empty; the tool takes no arguments.
type ListWindowsInput struct{}

// ListWindowsOutput carries the window dump.
type ListWindowsOutput struct {
	Windows []wire.WindowInfo `json:"windows"`
}

func (s *Server) handleListWindows(_ context.Context, _ *mcpsdk.CallToolRequest, _ ListWindowsInput) (*mcpsdk.CallToolResult, ListWindowsOutput, error) {
	cc, err := s.dial()
	if err != nil {
		return nil, ListWindowsOutput{}, err
	}
	defer cc.Close()

	windows, err := cc.ListWindows()
	if err != nil {
		return nil, ListWindowsOutput{}, err
	}
	return nil, ListWindowsOutput{Windows: windows}, nil
}

// ListTokensInput is empty; the tool takes no arguments.
type ListTokensInput struct{}

// ListTokensOutput carries the token dump.
type ListTokensOutput struct {
	Tokens []wire.TokenInfo `json:"tokens"`
}

func (s *Server) handleListTokens(_ context.Context, _ *mcpsdk.CallToolRequest, _ ListTokensInput) (*mcpsdk.CallToolResult, ListTokensOutput, error) {
	cc, err := s.dial()
	if err != nil {
		return nil, ListTokensOutput{}, err
	}
	defer cc.Close()

	tokens, err := cc.ListTokens()
	if err != nil {
		return nil, ListTokensOutput{}, err
	}
	return nil, ListTokensOutput{Tokens: tokens}, nil
}

// DisplayInfoInput is empty; the tool takes no arguments.
type DisplayInfoInput struct{}

// DisplayInfoOutput carries the display geometry.
type DisplayInfoOutput struct {
	Display wire.DisplayInfo `json:"display"`
}

func (s *Server) handleDisplayInfo(_ context.Context, _ *mcpsdk.CallToolRequest, _ DisplayInfoInput) (*mcpsdk.CallToolResult, DisplayInfoOutput, error) {
	cc, err := s.dial()
	if err != nil {
		return nil, DisplayInfoOutput{}, err
	}
	defer cc.Close()

	info, err := cc.DisplayInfo()
	if err != nil {
		return nil, DisplayInfoOutput{}, err
	}
	return nil, DisplayInfoOutput{Display: *info}, nil
}
