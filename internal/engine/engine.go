// Package engine hides the container engine behind a narrow client
// interface so the CLI-driven implementation and the native SDK
// implementation are interchangeable for every caller.
package engine

import (
	"context"
	"errors"
	"io"
)

// ContainerInfo is one entry from the engine's container inventory
type ContainerInfo struct {
	Name      string `json:"Names"`
	State     string `json:"State"`
	Image     string `json:"Image"`
	CreatedAt string `json:"CreatedAt"`
	Ports     string `json:"Ports"`
}

// ImageInfo is one entry from the engine's image inventory
type ImageInfo struct {
	Repository string `json:"Repository"`
	Tag        string `json:"Tag"`
	ID         string `json:"ID"`
	Size       string `json:"Size"`
}

var (
	// ErrUnavailable means the engine itself is unreachable. Fatal at
	// startup; callers must not interpret it as "zero resources".
	ErrUnavailable = errors.New("container engine unavailable")

	// ErrUnsupported marks operations a given client cannot perform
	// (compose on the native client).
	ErrUnsupported = errors.New("operation not supported by this engine client")
)

// Client is the narrow command contract against the container engine
type Client interface {
	Ping(ctx context.Context) error

	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	ListImages(ctx context.Context) ([]ImageInfo, error)
	ContainerExists(ctx context.Context, name string) (bool, error)
	ImageExists(ctx context.Context, ref string) (bool, error)
	MemoryUsage(ctx context.Context, name string) (string, error)
	NetworkExists(ctx context.Context, name string) (bool, error)

	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	RemoveImage(ctx context.Context, ref string) error
	StreamLogs(ctx context.Context, name string) (io.ReadCloser, error)

	ComposeBuild(ctx context.Context, dir string) error
	ComposeUp(ctx context.Context, dir string) error

	PruneImages(ctx context.Context) error
	PruneSystem(ctx context.Context) error
}
