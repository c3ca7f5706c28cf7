package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/yourorg/tenantfleet/internal/engine"
)

type stubEngine struct {
	containers []engine.ContainerInfo
	images     []engine.ImageInfo
	listErr    error
	memUsage   string
	memErr     error
}

func (s *stubEngine) Ping(ctx context.Context) error { return nil }
func (s *stubEngine) ListContainers(ctx context.Context) ([]engine.ContainerInfo, error) {
	return s.containers, s.listErr
}
func (s *stubEngine) ListImages(ctx context.Context) ([]engine.ImageInfo, error) {
	return s.images, s.listErr
}
func (s *stubEngine) ContainerExists(ctx context.Context, name string) (bool, error) {
	for _, c := range s.containers {
		if c.Name == name {
			return true, nil
		}
	}
	return false, nil
}
func (s *stubEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	for _, i := range s.images {
		if i.Repository == ref {
			return true, nil
		}
	}
	return false, nil
}
func (s *stubEngine) MemoryUsage(ctx context.Context, name string) (string, error) {
	return s.memUsage, s.memErr
}
func (s *stubEngine) NetworkExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (s *stubEngine) StopContainer(ctx context.Context, name string) error   { return nil }
func (s *stubEngine) RemoveContainer(ctx context.Context, name string) error { return nil }
func (s *stubEngine) RemoveImage(ctx context.Context, ref string) error      { return nil }
func (s *stubEngine) StreamLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}
func (s *stubEngine) ComposeBuild(ctx context.Context, dir string) error { return nil }
func (s *stubEngine) ComposeUp(ctx context.Context, dir string) error    { return nil }
func (s *stubEngine) PruneImages(ctx context.Context) error              { return nil }
func (s *stubEngine) PruneSystem(ctx context.Context) error              { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNamingConvention(t *testing.T) {
	r := NewReader(&stubEngine{}, "tenant-", "-app", testLogger())
	if got := r.ContainerName("acme"); got != "tenant-acme" {
		t.Errorf("ContainerName = %q", got)
	}
	if got := r.ImageRef("acme"); got != "acme-app" {
		t.Errorf("ImageRef = %q", got)
	}
}

func TestListTenantContainersFiltersByPrefix(t *testing.T) {
	stub := &stubEngine{containers: []engine.ContainerInfo{
		{Name: "tenant-acme", State: "running", Image: "acme-app"},
		{Name: "postgres", State: "running", Image: "postgres:16"},
		{Name: "tenant-beta", State: "exited", Image: "beta-app"},
		{Name: "tenantless", State: "running", Image: "other"},
	}}
	r := NewReader(stub, "tenant-", "-app", testLogger())

	got, err := r.ListTenantContainers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tenant containers, got %d: %+v", len(got), got)
	}
	if got[0].Subdomain != "acme" || got[1].Subdomain != "beta" {
		t.Errorf("derived subdomains wrong: %+v", got)
	}
}

func TestListTenantContainersDropsInvalidDerivation(t *testing.T) {
	stub := &stubEngine{containers: []engine.ContainerInfo{
		{Name: "tenant-ok1", State: "running"},
		{Name: "tenant-x", State: "running"},      // derived subdomain too short
		{Name: "tenant--bad", State: "running"},   // leading hyphen after trim
		{Name: "tenant-ends-", State: "running"},  // trailing hyphen
	}}
	r := NewReader(stub, "tenant-", "-app", testLogger())

	got, err := r.ListTenantContainers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Subdomain != "ok1" {
		t.Fatalf("invalid derivations must be dropped, got %+v", got)
	}
}

func TestListTenantImagesFiltersBySuffix(t *testing.T) {
	stub := &stubEngine{images: []engine.ImageInfo{
		{Repository: "acme-app", Tag: "latest"},
		{Repository: "nginx", Tag: "latest"},
		{Repository: "x-app", Tag: "latest"}, // derived subdomain too short
	}}
	r := NewReader(stub, "tenant-", "-app", testLogger())

	got, err := r.ListTenantImages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Subdomain != "acme" {
		t.Fatalf("expected only acme, got %+v", got)
	}
}

func TestListPropagatesEngineFailure(t *testing.T) {
	stub := &stubEngine{listErr: errors.New("engine unreachable")}
	r := NewReader(stub, "tenant-", "-app", testLogger())

	if _, err := r.ListTenantContainers(context.Background()); err == nil {
		t.Fatal("engine failure must propagate, not read as empty inventory")
	}
	if _, err := r.ListTenantImages(context.Background()); err == nil {
		t.Fatal("engine failure must propagate, not read as empty inventory")
	}
}

func TestMemoryUsageFallsBackToNA(t *testing.T) {
	r := NewReader(&stubEngine{memErr: errors.New("no stats")}, "tenant-", "-app", testLogger())
	if got := r.MemoryUsage(context.Background(), "acme"); got != "N/A" {
		t.Fatalf("MemoryUsage = %q, want N/A", got)
	}

	r = NewReader(&stubEngine{memUsage: "40MiB / 512MiB"}, "tenant-", "-app", testLogger())
	if got := r.MemoryUsage(context.Background(), "acme"); got != "40MiB / 512MiB" {
		t.Fatalf("MemoryUsage = %q", got)
	}
}
