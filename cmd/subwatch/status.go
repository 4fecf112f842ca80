package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"subwatch/internal/common/httpclient"

	"github.com/urfave/cli/v3"
)

const statusTimeout = 3 * time.Second

type statusEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		LastStatus  string `json:"last_status"`
		LastProblem string `json:"last_problem"`
		UpdatedAt   string `json:"updated_at"`
		Pending     int    `json:"pending"`
	} `json:"data"`
}

func printStatus(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	return writeStatus(ctx, os.Stdout, httpclient.New(statusTimeout, defaultUserAgent, nil), statusURL(cfg.Server.Addr))
}

func writeStatus(ctx context.Context, out io.Writer, client *httpclient.Client, url string) error {
	resp, err := client.Do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	var env statusEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("unexpected status response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !resp.OK() {
		return fmt.Errorf("status request failed: %s", env.Message)
	}

	fmt.Fprintf(out, "Last status:  %s\n", env.Data.LastStatus)
	fmt.Fprintf(out, "Last problem: %s\n", env.Data.LastProblem)
	if env.Data.UpdatedAt != "" {
		fmt.Fprintf(out, "Updated at:   %s\n", env.Data.UpdatedAt)
	}
	fmt.Fprintf(out, "Pending:      %d\n", env.Data.Pending)
	return nil
}

// statusURL maps a listen address to one a local client can dial.
func statusURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/api/v1/status"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/v1/status"
}
