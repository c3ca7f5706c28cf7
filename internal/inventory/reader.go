// Package inventory reads the live runtime state reported by the
// container engine and maps it onto the platform's naming convention.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yourorg/tenantfleet/internal/domain"
	"github.com/yourorg/tenantfleet/internal/engine"
)

// Reader filters the engine's inventory down to tenant-owned entries.
// Container name = prefix + subdomain, image = subdomain + suffix.
type Reader struct {
	client          engine.Client
	containerPrefix string
	imageSuffix     string
	logger          *slog.Logger
}

// NewReader creates a runtime inventory reader
func NewReader(client engine.Client, containerPrefix, imageSuffix string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		client:          client,
		containerPrefix: containerPrefix,
		imageSuffix:     imageSuffix,
		logger:          logger,
	}
}

// ContainerName returns the container name for a subdomain
func (r *Reader) ContainerName(subdomain string) string {
	return r.containerPrefix + subdomain
}

// ImageRef returns the image reference for a subdomain
func (r *Reader) ImageRef(subdomain string) string {
	return subdomain + r.imageSuffix
}

// ListTenantContainers returns all containers that follow the tenant
// naming convention. Entries whose derived subdomain is structurally
// invalid are dropped with a warning rather than propagated.
func (r *Reader) ListTenantContainers(ctx context.Context) ([]domain.ContainerRecord, error) {
	containers, err := r.client.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime inventory unavailable: %w", err)
	}

	var out []domain.ContainerRecord
	for _, c := range containers {
		if !strings.HasPrefix(c.Name, r.containerPrefix) {
			continue
		}
		subdomain := strings.TrimPrefix(c.Name, r.containerPrefix)
		if !domain.ValidSubdomain(subdomain) {
			r.logger.Warn("container matches prefix but derives invalid subdomain",
				slog.String("container", c.Name),
				slog.String("derived", subdomain),
			)
			continue
		}
		out = append(out, domain.ContainerRecord{
			Name:      c.Name,
			Subdomain: subdomain,
			State:     c.State,
			Image:     c.Image,
			CreatedAt: c.CreatedAt,
			Ports:     c.Ports,
		})
	}
	return out, nil
}

// ListTenantImages returns all images that follow the tenant naming
// convention
func (r *Reader) ListTenantImages(ctx context.Context) ([]domain.ImageRecord, error) {
	images, err := r.client.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime inventory unavailable: %w", err)
	}

	var out []domain.ImageRecord
	for _, img := range images {
		if !strings.HasSuffix(img.Repository, r.imageSuffix) {
			continue
		}
		subdomain := strings.TrimSuffix(img.Repository, r.imageSuffix)
		if !domain.ValidSubdomain(subdomain) {
			r.logger.Warn("image matches suffix but derives invalid subdomain",
				slog.String("image", img.Repository),
				slog.String("derived", subdomain),
			)
			continue
		}
		out = append(out, domain.ImageRecord{
			Repository: img.Repository,
			Subdomain:  subdomain,
			Tag:        img.Tag,
			ID:         img.ID,
			Size:       img.Size,
		})
	}
	return out, nil
}

// ContainerExists reports whether the tenant's container exists
func (r *Reader) ContainerExists(ctx context.Context, subdomain string) (bool, error) {
	return r.client.ContainerExists(ctx, r.ContainerName(subdomain))
}

// ImageExists reports whether the tenant's image exists
func (r *Reader) ImageExists(ctx context.Context, subdomain string) (bool, error) {
	return r.client.ImageExists(ctx, r.ImageRef(subdomain))
}

// MemoryUsage returns the tenant container's memory usage, "N/A" when
// stats are unavailable
func (r *Reader) MemoryUsage(ctx context.Context, subdomain string) string {
	usage, err := r.client.MemoryUsage(ctx, r.ContainerName(subdomain))
	if err != nil || usage == "" {
		return "N/A"
	}
	return usage
}
