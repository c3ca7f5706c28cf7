package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/yourorg/tenantfleet/internal/infrastructure/command"
)

// CLIClient drives the engine through discrete, timeout-bounded external
// commands, parsing the engine's line-delimited JSON output. This is the
// default client; a hung engine command fails that one call only.
type CLIClient struct {
	binary string
	runner *command.Runner
	logger *slog.Logger
}

// NewCLIClient creates a CLI-backed engine client
func NewCLIClient(binary string, runner *command.Runner, logger *slog.Logger) *CLIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIClient{binary: binary, runner: runner, logger: logger}
}

func (c *CLIClient) Ping(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, c.binary, "info", "--format", "{{.ServerVersion}}"); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ListContainers returns the full container inventory, including stopped
// units. A single malformed output line is skipped, not fatal.
func (c *CLIClient) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	res, err := c.runner.Run(ctx, c.binary, "ps", "-a", "--format", "{{json .}}")
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var out []ContainerInfo
	for _, line := range splitLines(res.Stdout) {
		var info ContainerInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			c.logger.Warn("skipping malformed container entry", slog.String("line", line))
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *CLIClient) ListImages(ctx context.Context) ([]ImageInfo, error) {
	res, err := c.runner.Run(ctx, c.binary, "images", "--format", "{{json .}}")
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	var out []ImageInfo
	for _, line := range splitLines(res.Stdout) {
		var info ImageInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			c.logger.Warn("skipping malformed image entry", slog.String("line", line))
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *CLIClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	res, err := c.runner.Run(ctx, c.binary, "ps", "-a", "--filter", "name=^"+name+"$", "--format", "{{.Names}}")
	if err != nil {
		return false, fmt.Errorf("inspect container %s: %w", name, err)
	}
	for _, line := range splitLines(res.Stdout) {
		if line == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *CLIClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	res, err := c.runner.Run(ctx, c.binary, "images", "--format", "{{.Repository}}:{{.Tag}}")
	if err != nil {
		return false, fmt.Errorf("inspect image %s: %w", ref, err)
	}
	for _, line := range splitLines(res.Stdout) {
		if line == ref || strings.TrimSuffix(line, ":latest") == ref {
			return true, nil
		}
	}
	return false, nil
}

// MemoryUsage returns the current memory usage string for a container,
// or "N/A" when stats are unavailable for any reason.
func (c *CLIClient) MemoryUsage(ctx context.Context, name string) (string, error) {
	res, err := c.runner.Run(ctx, c.binary, "stats", "--no-stream", "--format", "{{.MemUsage}}", name)
	if err != nil {
		return "N/A", nil
	}
	usage := strings.TrimSpace(res.Stdout)
	if usage == "" {
		return "N/A", nil
	}
	return usage, nil
}

func (c *CLIClient) NetworkExists(ctx context.Context, name string) (bool, error) {
	res, err := c.runner.Run(ctx, c.binary, "network", "ls", "--filter", "name=^"+name+"$", "--format", "{{.Name}}")
	if err != nil {
		return false, fmt.Errorf("list networks: %w", err)
	}
	for _, line := range splitLines(res.Stdout) {
		if line == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *CLIClient) StopContainer(ctx context.Context, name string) error {
	if _, err := c.runner.Run(ctx, c.binary, "stop", name); err != nil {
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	return nil
}

func (c *CLIClient) RemoveContainer(ctx context.Context, name string) error {
	if _, err := c.runner.Run(ctx, c.binary, "rm", "-f", name); err != nil {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

func (c *CLIClient) RemoveImage(ctx context.Context, ref string) error {
	if _, err := c.runner.Run(ctx, c.binary, "rmi", ref); err != nil {
		return fmt.Errorf("remove image %s: %w", ref, err)
	}
	return nil
}

// StreamLogs is served by a plain `logs --follow` pipe. The CLI client
// buffers whatever the command produced within its timeout; long-lived
// streaming uses the native client.
func (c *CLIClient) StreamLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	res, err := c.runner.Run(ctx, c.binary, "logs", "--tail", "500", name)
	if err != nil {
		return nil, fmt.Errorf("logs for %s: %w", name, err)
	}
	return io.NopCloser(strings.NewReader(res.Stdout + res.Stderr)), nil
}

func (c *CLIClient) ComposeBuild(ctx context.Context, dir string) error {
	if _, err := c.runner.RunIn(ctx, dir, c.binary, "compose", "build"); err != nil {
		return fmt.Errorf("compose build in %s: %w", dir, err)
	}
	return nil
}

func (c *CLIClient) ComposeUp(ctx context.Context, dir string) error {
	if _, err := c.runner.RunIn(ctx, dir, c.binary, "compose", "up", "-d"); err != nil {
		return fmt.Errorf("compose up in %s: %w", dir, err)
	}
	return nil
}

func (c *CLIClient) PruneImages(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, c.binary, "image", "prune", "-f"); err != nil {
		return fmt.Errorf("image prune: %w", err)
	}
	return nil
}

func (c *CLIClient) PruneSystem(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, c.binary, "system", "prune", "-f"); err != nil {
		return fmt.Errorf("system prune: %w", err)
	}
	if _, err := c.runner.Run(ctx, c.binary, "volume", "prune", "-f"); err != nil {
		return fmt.Errorf("volume prune: %w", err)
	}
	if _, err := c.runner.Run(ctx, c.binary, "network", "prune", "-f"); err != nil {
		return fmt.Errorf("network prune: %w", err)
	}
	return nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
