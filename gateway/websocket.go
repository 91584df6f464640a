package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
)

// ServerConfig locates the interpreter server for the WebSocket transport.
type ServerConfig struct {
	// BaseURL is the HTTP root of the interpreter server, e.g.
	// "http://127.0.0.1:8888".
	BaseURL string `json:"base_url"`
	// Token is the server's API token, empty when auth is disabled.
	Token string `json:"token,omitempty"`
	// KernelName selects the kernelspec to launch; empty uses the server
	// default.
	KernelName string `json:"kernel_name,omitempty"`
}

// DefaultServerConfig returns the default server location.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{BaseURL: "http://127.0.0.1:8888"}
}

// Merge applies non-zero values from source into c.
func (c *ServerConfig) Merge(source *ServerConfig) {
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.Token != "" {
		c.Token = source.Token
	}
	if source.KernelName != "" {
		c.KernelName = source.KernelName
	}
}

// serverTransport starts kernels through the server's REST API and speaks
// the wire protocol over the kernel's channels WebSocket.
type serverTransport struct {
	cfg    ServerConfig
	client *http.Client
	dialer *websocket.Dialer
}

// NewServerTransport creates a Transport backed by an interpreter server.
func NewServerTransport(cfg ServerConfig) Transport {
	return &serverTransport{
		cfg:    cfg,
		client: http.DefaultClient,
		dialer: websocket.DefaultDialer,
	}
}

func (t *serverTransport) Connect(ctx context.Context) (Connection, error) {
	kernelID, err := t.startKernel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start kernel: %w", err)
	}

	wsURL, err := t.channelsURL(kernelID)
	if err != nil {
		return nil, err
	}

	ws, _, err := t.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open channels socket: %w", err)
	}

	return &serverConnection{
		transport: t,
		kernelID:  kernelID,
		ws:        ws,
	}, nil
}

func (t *serverTransport) startKernel(ctx context.Context) (string, error) {
	body := map[string]string{}
	if t.cfg.KernelName != "" {
		body["name"] = t.cfg.KernelName
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := t.apiPost(ctx, "/api/kernels", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("server returned no kernel id")
	}
	return created.ID, nil
}

func (t *serverTransport) apiPost(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("POST %s: %s: %s", path, resp.Status, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *serverTransport) apiDelete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, t.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("DELETE %s: %s", path, resp.Status)
	}
	return nil
}

func (t *serverTransport) authorize(req *http.Request) {
	if t.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+t.cfg.Token)
	}
}

func (t *serverTransport) channelsURL(kernelID string) (string, error) {
	u, err := url.Parse(t.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", t.cfg.BaseURL, err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/kernels/" + kernelID + "/channels"
	if t.cfg.Token != "" {
		q := u.Query()
		q.Set("token", t.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// serverConnection is one kernel's channels socket plus its REST lifecycle
// endpoints.
type serverConnection struct {
	transport *serverTransport
	kernelID  string

	writeMu sync.Mutex
	ws      *websocket.Conn
}

func (c *serverConnection) Send(ctx context.Context, msg *protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *serverConnection) Recv(ctx context.Context) (*protocol.Message, error) {
	var msg protocol.Message
	if err := c.ws.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *serverConnection) Interrupt(ctx context.Context) error {
	return c.transport.apiPost(ctx, "/api/kernels/"+c.kernelID+"/interrupt", map[string]string{}, nil)
}

func (c *serverConnection) Restart(ctx context.Context) error {
	return c.transport.apiPost(ctx, "/api/kernels/"+c.kernelID+"/restart", map[string]string{}, nil)
}

func (c *serverConnection) Close() error {
	c.writeMu.Lock()
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := c.ws.Close()
	if derr := c.transport.apiDelete("/api/kernels/" + c.kernelID); derr != nil && err == nil {
		err = derr
	}
	return err
}
