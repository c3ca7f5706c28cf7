package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourorg/tenantfleet/internal/domain"
	"github.com/yourorg/tenantfleet/pkg/config"
)

// generateEnvFile writes the tenant-scoped .env: a fresh app secret,
// tier flags, inherited platform-wide API keys, and mail settings.
func generateEnvFile(dir string, t *domain.Tenant, cfg *config.Config) error {
	secret, err := randomHex(32)
	if err != nil {
		return fmt.Errorf("generate app secret: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SUBDOMAIN=%s\n", t.Subdomain)
	fmt.Fprintf(&b, "APP_URL=https://%s.%s\n", t.Subdomain, cfg.PlatformDomain)
	fmt.Fprintf(&b, "APP_SECRET=%s\n", secret)
	fmt.Fprintf(&b, "PLAN_TIER=%s\n", t.Plan)
	fmt.Fprintf(&b, "DB_PATH=/app/data/%s.sqlite\n", t.Subdomain)
	fmt.Fprintf(&b, "ORG_NAME=%s\n", t.OrgName)
	fmt.Fprintf(&b, "MAILBOX_ADDRESS=%s\n", t.MailboxAddress)
	fmt.Fprintf(&b, "MAILBOX_PASSWORD=%s\n", t.MailboxPassword)

	// Platform-wide keys inherited by every tenant, in stable order
	keys := make([]string, 0, len(cfg.PlatformAPIKeys))
	for k := range cfg.PlatformAPIKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, cfg.PlatformAPIKeys[k])
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

// generateCompose writes the tenant's runtime descriptor. Production
// (shared reverse-proxy network present) routes by virtual host on the
// external network; local publishes the port directly. Which one is in
// effect is discovered from the engine, not passed by the caller.
func generateCompose(ctx context.Context, dir string, t *domain.Tenant, cfg *config.Config, networkExists func(context.Context, string) (bool, error)) error {
	production, err := networkExists(ctx, cfg.SharedNetwork)
	if err != nil {
		return fmt.Errorf("detect environment: %w", err)
	}

	containerName := cfg.ContainerPrefix + t.Subdomain
	imageRef := t.Subdomain + cfg.ImageSuffix

	var b strings.Builder
	b.WriteString("services:\n")
	b.WriteString("  app:\n")
	b.WriteString("    build: .\n")
	fmt.Fprintf(&b, "    image: %s\n", imageRef)
	fmt.Fprintf(&b, "    container_name: %s\n", containerName)
	b.WriteString("    restart: unless-stopped\n")
	b.WriteString("    env_file: .env\n")
	b.WriteString("    volumes:\n")
	b.WriteString("      - ./data:/app/data\n")

	if production {
		b.WriteString("    environment:\n")
		fmt.Fprintf(&b, "      - VIRTUAL_HOST=%s.%s\n", t.Subdomain, cfg.PlatformDomain)
		b.WriteString("    networks:\n")
		fmt.Fprintf(&b, "      - %s\n", cfg.SharedNetwork)
		b.WriteString("networks:\n")
		fmt.Fprintf(&b, "  %s:\n", cfg.SharedNetwork)
		b.WriteString("    external: true\n")
	} else {
		b.WriteString("    ports:\n")
		fmt.Fprintf(&b, "      - \"%d:3000\"\n", t.Port)
	}

	path := filepath.Join(dir, "docker-compose.yml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write compose file: %w", err)
	}
	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
