package fsops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourorg/tenantfleet/internal/infrastructure/command"
)

// ErrUnsafePath means the target does not resolve strictly inside the
// configured deploy root. Such paths are refused unconditionally, never
// attempted.
var ErrUnsafePath = errors.New("path outside deploy root")

// Strategy is one rung of the removal ladder: uniform signature, so the
// engine can iterate the list and each rung is independently testable.
type Strategy struct {
	Name  string
	Apply func(ctx context.Context, path string) error
}

// Remover deletes deployed directories that resist ordinary deletion:
// wrong ownership, immutable attributes, cleared permission bits, busy
// handles. Strategies escalate in aggressiveness and stop at first
// success.
type Remover struct {
	deployRoot   string
	engineBinary string
	runner       *command.Runner
	logger       *slog.Logger
	strategies   []Strategy
}

// NewRemover creates a Remover confined to deployRoot
func NewRemover(deployRoot, engineBinary string, runner *command.Runner, logger *slog.Logger) *Remover {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Remover{
		deployRoot:   deployRoot,
		engineBinary: engineBinary,
		runner:       runner,
		logger:       logger,
	}
	r.strategies = []Strategy{
		{Name: "direct", Apply: r.directRemove},
		{Name: "permissions", Apply: r.permissionRemove},
		{Name: "attributes", Apply: r.attributeRemove},
		{Name: "delegated", Apply: r.delegatedRemove},
		{Name: "privileged", Apply: r.privilegedRemove},
		{Name: "busy-check", Apply: r.busyHandleRemove},
	}
	return r
}

// SetStrategies replaces the ladder. Used by tests to inject simulated
// failure modes.
func (r *Remover) SetStrategies(strategies []Strategy) {
	r.strategies = strategies
}

// CheckPath verifies that path resolves strictly inside the deploy root
func (r *Remover) CheckPath(path string) error {
	root, err := filepath.EvalSymlinks(r.deployRoot)
	if err != nil {
		return fmt.Errorf("deploy root unresolvable: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsafePath, path)
	}

	// Resolve through the nearest existing ancestor so a symlinked
	// component cannot smuggle the target outside the root.
	resolved, err := resolveExisting(abs)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsafePath, path)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s resolves to %s", ErrUnsafePath, path, resolved)
	}
	return nil
}

// ForceRemove removes path by escalating through the strategy ladder.
// Returns true if the path is gone afterwards; a nonexistent path is an
// immediate success.
func (r *Remover) ForceRemove(ctx context.Context, path string) bool {
	if err := r.CheckPath(path); err != nil {
		r.logger.Error("refusing removal", slog.String("path", path), slog.String("error", err.Error()))
		return false
	}

	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return true
	}

	for _, s := range r.strategies {
		err := s.Apply(ctx, path)
		if _, statErr := os.Lstat(path); os.IsNotExist(statErr) {
			r.logger.Info("removal succeeded",
				slog.String("path", path),
				slog.String("strategy", s.Name),
			)
			return true
		}
		if err == nil {
			err = fmt.Errorf("strategy reported success but path remains")
		}
		r.logger.Warn("removal strategy failed",
			slog.String("path", path),
			slog.String("strategy", s.Name),
			slog.String("error", err.Error()),
		)
	}

	r.logger.Error("all removal strategies exhausted", slog.String("path", path))
	return false
}

// directRemove is the ordinary recursive delete
func (r *Remover) directRemove(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}

// permissionRemove grants rwx on every entry bottom-up, then retries.
// Bottom-up matters: a directory must be executable before its children
// can be stat'ed and writable before they can be unlinked.
func (r *Remover) permissionRemove(ctx context.Context, path string) error {
	var paths []string
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	for _, p := range paths {
		_ = os.Chmod(p, 0o777)
	}
	// Parent directories again, top-down, so the walk-missed ones get it too
	_ = os.Chmod(path, 0o777)
	return os.RemoveAll(path)
}

// attributeRemove clears immutable/append-only attributes recursively.
// Absence of the chattr binary is not an error; the retry decides.
func (r *Remover) attributeRemove(ctx context.Context, path string) error {
	if _, err := r.runner.Run(ctx, "chattr", "-R", "-i", "-a", path); err != nil {
		r.logger.Debug("chattr unavailable or failed", slog.String("error", err.Error()))
	}
	return os.RemoveAll(path)
}

// delegatedRemove deletes from inside a disposable container that runs as
// root, clearing artifacts left behind by container processes that ran
// with other-user ownership.
func (r *Remover) delegatedRemove(ctx context.Context, path string) error {
	parent := filepath.Dir(path)
	name := filepath.Base(path)
	_, err := r.runner.Run(ctx, r.engineBinary,
		"run", "--rm",
		"-v", parent+":/target",
		"alpine",
		"rm", "-rf", "/target/"+name,
	)
	return err
}

// privilegedRemove uses sudo only when it needs no interactive prompt
func (r *Remover) privilegedRemove(ctx context.Context, path string) error {
	if _, err := r.runner.Run(ctx, "sudo", "-n", "true"); err != nil {
		return fmt.Errorf("passwordless sudo unavailable: %w", err)
	}
	_, err := r.runner.Run(ctx, "sudo", "-n", "rm", "-rf", path)
	return err
}

// busyHandleRemove retries direct removal only when no process holds
// files under the path open. It never kills anything: a busy path is a
// failure, not a target.
func (r *Remover) busyHandleRemove(ctx context.Context, path string) error {
	res, err := r.runner.Run(ctx, "lsof", "+D", path)
	if err == nil && strings.TrimSpace(res.Stdout) != "" {
		return fmt.Errorf("files under %s are held open by running processes", path)
	}
	// lsof exits non-zero when nothing matches; that is the good case
	return os.RemoveAll(path)
}

// resolveExisting resolves symlinks through the nearest existing
// ancestor of path and rejoins the nonexistent remainder
func resolveExisting(abs string) (string, error) {
	p := abs
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor for %s", abs)
		}
		tail = append(tail, filepath.Base(p))
		p = parent
	}
}
