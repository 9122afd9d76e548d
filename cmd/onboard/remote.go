package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/onboarding-crm/pkg/mcpquic"
)

func remoteCommand() *cli.Command {
	return &cli.Command{
		Name:      "remote",
		Usage:     "Call a CRM tool on a running server over MCP/QUIC",
		ArgsUsage: "[tool] [key=value...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "Server address", Value: "localhost:8420", EnvVars: []string{"ONBOARD_SERVER"}},
			&cli.StringFlag{Name: "ca", Usage: "PEM file to verify the server certificate; without it verification is skipped"},
			&cli.DurationFlag{Name: "timeout", Usage: "Call timeout", Value: 30 * time.Second},
		},
		Action: runRemote,
	}
}

func runRemote(c *cli.Context) error {
	tlsCfg := mcpquic.ClientTLSConfig(true)
	if ca := c.String("ca"); ca != "" {
		pem, err := os.ReadFile(ca)
		if err != nil {
			return fmt.Errorf("read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificate in %s", ca)
		}
		tlsCfg = mcpquic.ClientTLSConfig(false)
		tlsCfg.RootCAs = pool
	}

	args, err := parseToolArgs(c.Args().Tail())
	if err != nil {
		return cli.Exit("remote: "+err.Error(), 2)
	}

	ctx := c.Context
	if d := c.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	cl := mcpquic.NewClient(c.String("server"), tlsCfg)
	if err := cl.Connect(ctx, "onboard-cli", Version); err != nil {
		return err
	}
	defer cl.Close()

	if c.NArg() == 0 {
		tools, err := cl.ListTools(ctx)
		if err != nil {
			return err
		}
		for _, t := range tools.Tools {
			fmt.Fprintf(c.App.Writer, "%-22s %s\n", t.Name, t.Description)
		}
		return nil
	}

	res, err := cl.CallTool(ctx, c.Args().First(), args)
	if err != nil {
		return err
	}
	for _, content := range res.Content {
		if text, ok := content.(mcp.TextContent); ok {
			fmt.Fprintln(c.App.Writer, text.Text)
		}
	}
	if res.IsError {
		return cli.Exit("", 1)
	}
	return nil
}

// parseToolArgs turns key=value pairs into tool arguments. Values that
// parse as numbers or booleans are passed as such.
func parseToolArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q is not key=value", p)
		}
		switch {
		case isNumber(v):
			f, _ := strconv.ParseFloat(v, 64)
			args[k] = f
		case v == "true" || v == "false":
			args[k] = v == "true"
		default:
			args[k] = v
		}
	}
	return args, nil
}

func isNumber(s string) bool {
	if s == "" || strings.ContainsAny(s, "xXpP_iInN") {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
