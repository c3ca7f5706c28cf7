package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/yourorg/tenantfleet/internal/reliability/circuitbreaker"
	"github.com/yourorg/tenantfleet/internal/reliability/retry"
)

// NativeClient implements Client with the Docker SDK, wrapped in retry
// and circuit breaker protection. Compose operations are not available
// through the SDK and return ErrUnsupported.
type NativeClient struct {
	cli            *client.Client
	logger         *slog.Logger
	retryConfig    *retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewNativeClient creates an SDK-backed engine client
func NewNativeClient(host string, logger *slog.Logger) (*NativeClient, error) {
	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	cb := circuitbreaker.NewCircuitBreaker(5, 2, 30*time.Second)
	cb.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		names := map[circuitbreaker.State]string{
			circuitbreaker.StateClosed:   "CLOSED",
			circuitbreaker.StateOpen:     "OPEN",
			circuitbreaker.StateHalfOpen: "HALF_OPEN",
		}
		logger.Warn("engine circuit breaker state changed",
			slog.String("from", names[from]),
			slog.String("to", names[to]),
		)
	})

	return &NativeClient{
		cli:            cli,
		logger:         logger,
		retryConfig:    retry.DefaultConfig(),
		circuitBreaker: cb,
	}, nil
}

func (c *NativeClient) guarded(name string, fn func() error) error {
	if !c.circuitBreaker.AllowRequest() {
		return fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
	}
	err := fn()
	if err != nil {
		c.circuitBreaker.RecordFailure()
		return err
	}
	c.circuitBreaker.RecordSuccess()
	return nil
}

func (c *NativeClient) Ping(ctx context.Context) error {
	return c.guarded("Ping", func() error {
		if _, err := c.cli.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	})
}

func (c *NativeClient) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	var out []ContainerInfo
	err := c.guarded("ListContainers", func() error {
		result, err := retry.Do(ctx, c.retryConfig, c.logger, "ListContainers", func(ctx context.Context) ([]container.Summary, error) {
			return c.cli.ContainerList(ctx, container.ListOptions{All: true})
		})
		if err != nil {
			return fmt.Errorf("list containers: %w", err)
		}
		for _, s := range result {
			name := ""
			if len(s.Names) > 0 {
				name = strings.TrimPrefix(s.Names[0], "/")
			}
			out = append(out, ContainerInfo{
				Name:      name,
				State:     s.State,
				Image:     s.Image,
				CreatedAt: time.Unix(s.Created, 0).Format(time.RFC3339),
				Ports:     formatPorts(s.Ports),
			})
		}
		return nil
	})
	return out, err
}

func (c *NativeClient) ListImages(ctx context.Context) ([]ImageInfo, error) {
	var out []ImageInfo
	err := c.guarded("ListImages", func() error {
		result, err := retry.Do(ctx, c.retryConfig, c.logger, "ListImages", func(ctx context.Context) ([]image.Summary, error) {
			return c.cli.ImageList(ctx, image.ListOptions{})
		})
		if err != nil {
			return fmt.Errorf("list images: %w", err)
		}
		for _, s := range result {
			for _, tag := range s.RepoTags {
				repo, t, ok := strings.Cut(tag, ":")
				if !ok {
					t = "latest"
					repo = tag
				}
				out = append(out, ImageInfo{
					Repository: repo,
					Tag:        t,
					ID:         s.ID,
					Size:       fmt.Sprintf("%.1fMB", float64(s.Size)/(1024*1024)),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *NativeClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	containers, err := c.ListContainers(ctx)
	if err != nil {
		return false, err
	}
	for _, info := range containers {
		if info.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *NativeClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	images, err := c.ListImages(ctx)
	if err != nil {
		return false, err
	}
	for _, info := range images {
		full := info.Repository + ":" + info.Tag
		if full == ref || info.Repository == ref {
			return true, nil
		}
	}
	return false, nil
}

func (c *NativeClient) MemoryUsage(ctx context.Context, name string) (string, error) {
	stats, err := c.cli.ContainerStatsOneShot(ctx, name)
	if err != nil {
		return "N/A", nil
	}
	defer stats.Body.Close()

	var payload container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&payload); err != nil {
		return "N/A", nil
	}
	if payload.MemoryStats.Limit == 0 {
		return "N/A", nil
	}
	return fmt.Sprintf("%.1fMiB / %.1fMiB",
		float64(payload.MemoryStats.Usage)/(1024*1024),
		float64(payload.MemoryStats.Limit)/(1024*1024),
	), nil
}

func (c *NativeClient) NetworkExists(ctx context.Context, name string) (bool, error) {
	var found bool
	err := c.guarded("NetworkExists", func() error {
		networks, err := c.cli.NetworkList(ctx, network.ListOptions{
			Filters: filters.NewArgs(filters.Arg("name", name)),
		})
		if err != nil {
			return fmt.Errorf("list networks: %w", err)
		}
		for _, n := range networks {
			if n.Name == name {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (c *NativeClient) StopContainer(ctx context.Context, name string) error {
	return c.guarded("StopContainer", func() error {
		_, err := retry.Do(ctx, c.retryConfig, c.logger, "StopContainer", func(ctx context.Context) (struct{}, error) {
			timeout := 10
			return struct{}{}, c.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
		})
		return err
	})
}

func (c *NativeClient) RemoveContainer(ctx context.Context, name string) error {
	return c.guarded("RemoveContainer", func() error {
		_, err := retry.Do(ctx, c.retryConfig, c.logger, "RemoveContainer", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
		})
		return err
	})
}

func (c *NativeClient) RemoveImage(ctx context.Context, ref string) error {
	return c.guarded("RemoveImage", func() error {
		_, err := retry.Do(ctx, c.retryConfig, c.logger, "RemoveImage", func(ctx context.Context) (struct{}, error) {
			_, err := c.cli.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true})
			return struct{}{}, err
		})
		return err
	})
}

func (c *NativeClient) StreamLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	if !c.circuitBreaker.AllowRequest() {
		return nil, fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
	}
	stream, err := c.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "500",
	})
	if err != nil {
		c.circuitBreaker.RecordFailure()
		return nil, fmt.Errorf("logs for %s: %w", name, err)
	}
	c.circuitBreaker.RecordSuccess()
	return stream, nil
}

func (c *NativeClient) ComposeBuild(ctx context.Context, dir string) error {
	return fmt.Errorf("%w: compose build", ErrUnsupported)
}

func (c *NativeClient) ComposeUp(ctx context.Context, dir string) error {
	return fmt.Errorf("%w: compose up", ErrUnsupported)
}

func (c *NativeClient) PruneImages(ctx context.Context) error {
	return c.guarded("PruneImages", func() error {
		_, err := c.cli.ImagesPrune(ctx, filters.Args{})
		return err
	})
}

func (c *NativeClient) PruneSystem(ctx context.Context) error {
	return c.guarded("PruneSystem", func() error {
		if _, err := c.cli.ContainersPrune(ctx, filters.Args{}); err != nil {
			return fmt.Errorf("containers prune: %w", err)
		}
		if _, err := c.cli.ImagesPrune(ctx, filters.Args{}); err != nil {
			return fmt.Errorf("images prune: %w", err)
		}
		if _, err := c.cli.VolumesPrune(ctx, filters.Args{}); err != nil {
			return fmt.Errorf("volumes prune: %w", err)
		}
		if _, err := c.cli.NetworksPrune(ctx, filters.Args{}); err != nil {
			return fmt.Errorf("networks prune: %w", err)
		}
		return nil
	})
}

// Close closes the SDK client
func (c *NativeClient) Close() error {
	return c.cli.Close()
}

func formatPorts(ports []container.Port) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.PublicPort > 0 {
			parts = append(parts, fmt.Sprintf("%d->%d/%s", p.PublicPort, p.PrivatePort, p.Type))
		} else {
			parts = append(parts, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
		}
	}
	return strings.Join(parts, ", ")
}
