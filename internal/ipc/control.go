package ipc

import (
	"github.com/quartzwm/quartz/internal/wire"
)

// ControlClient is the thin client the CLI, TUI and MCP surfaces use for
// control-plane queries.
type ControlClient struct {
	c *Client
}

// DialControl connects to the service control socket.
func DialControl(socketPath string) (*ControlClient, error) {
	c, err := Dial(socketPath, nil)
	if err != nil {
		return nil, err
	}
	return &ControlClient{c: c}, nil
}

// GetStatus retrieves the service status snapshot.
func (cc *ControlClient) GetStatus() (*wire.StatusData, error) {
	var reply wire.GetStatusReply
	if _, _, err := cc.c.Call(wire.MethodGetStatus, struct{}{}, &reply); err != nil {
		return nil, err
	}
	return &reply.Status, nil
}

// ListWindows retrieves the window dump in z-order.
func (cc *ControlClient) ListWindows() ([]wire.WindowInfo, error) {
	var reply wire.ListWindowsReply
	if _, _, err := cc.c.Call(wire.MethodListWindows, struct{}{}, &reply); err != nil {
		return nil, err
	}
	return reply.Windows, nil
}

// ListTokens retrieves the registered tokens.
func (cc *ControlClient) ListTokens() ([]wire.TokenInfo, error) {
	var reply wire.ListTokensReply
	if _, _, err := cc.c.Call(wire.MethodListTokens, struct{}{}, &reply); err != nil {
		return nil, err
	}
	return reply.Tokens, nil
}

// DisplayInfo retrieves the primary display geometry.
func (cc *ControlClient) DisplayInfo() (*wire.DisplayInfo, error) {
	var reply wire.GetDisplayInfoReply
	if _, _, err := cc.c.Call(wire.MethodGetDisplayInfo,
		wire.GetDisplayInfoRequest{DisplayId: 0}, &reply); err != nil {
		return nil, err
	}
	return &reply.Info, nil
}

// Ping checks whether the service is responding.
func (cc *ControlClient) Ping() error {
	_, err := cc.GetStatus()
	return err
}

// Close drops the connection.
func (cc *ControlClient) Close() { cc.c.Close() }
