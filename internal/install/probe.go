package install

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"pier/internal/marketplace"
	"pier/internal/oauth"
	"pier/pkg/logging"
)

// probeTimeout bounds one connectivity probe, subprocess startup included.
const probeTimeout = 15 * time.Second

// mcpProtocolVersion is the protocol revision announced during the probe
// handshake.
const mcpProtocolVersion = "2024-11-05"

// ProbeFunc checks that a server described by pkg answers the MCP handshake.
// bearer is attached to remote transports when non-empty.
type ProbeFunc func(ctx context.Context, pkg *marketplace.Package, bearer oauth.RedactedToken) error

// Probe dials the server with the transport the package declares, runs the
// initialize handshake and disconnects. A successful round trip is the
// definition of "the server works" for the connect and test steps.
func Probe(ctx context.Context, pkg *marketplace.Package, bearer oauth.RedactedToken) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch pkg.Transport {
	case marketplace.TransportStdio:
		return probeStdio(ctx, pkg)
	case marketplace.TransportHTTP:
		return probeHTTP(ctx, pkg, bearer)
	case marketplace.TransportSSE:
		return probeSSE(ctx, pkg, bearer)
	default:
		return &UnsupportedTransportError{Transport: pkg.Transport}
	}
}

func probeStdio(ctx context.Context, pkg *marketplace.Package) error {
	var envStrings []string
	for k, v := range pkg.Env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	c, err := client.NewStdioMCPClient(pkg.Command, envStrings, pkg.Args...)
	if err != nil {
		return fmt.Errorf("start %s: %w", pkg.Command, err)
	}
	defer func() { _ = c.Close() }()

	return handshake(ctx, c, pkg.Name)
}

func probeHTTP(ctx context.Context, pkg *marketplace.Package, bearer oauth.RedactedToken) error {
	var opts []transport.StreamableHTTPCOption
	if headers := bearerHeaders(bearer); headers != nil {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	c, err := client.NewStreamableHttpClient(pkg.URL, opts...)
	if err != nil {
		return fmt.Errorf("create client for %s: %w", pkg.URL, err)
	}
	defer func() { _ = c.Close() }()

	return handshake(ctx, c, pkg.Name)
}

func probeSSE(ctx context.Context, pkg *marketplace.Package, bearer oauth.RedactedToken) error {
	var opts []transport.ClientOption
	if headers := bearerHeaders(bearer); headers != nil {
		opts = append(opts, transport.WithHeaders(headers))
	}

	c, err := client.NewSSEMCPClient(pkg.URL, opts...)
	if err != nil {
		return fmt.Errorf("create client for %s: %w", pkg.URL, err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", pkg.URL, err)
	}
	return handshake(ctx, c, pkg.Name)
}

func bearerHeaders(bearer oauth.RedactedToken) map[string]string {
	if bearer.Empty() {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + bearer.Reveal()}
}

func handshake(ctx context.Context, c *client.Client, name string) error {
	result, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcpProtocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "pier",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize MCP protocol: %w", err)
	}
	logging.Debug("Install", "Probe of %s succeeded. Server: %s, Version: %s",
		name, result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}
