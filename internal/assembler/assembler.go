// Package assembler fetches the tools repository and installs individual
// tools from it into a project.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/internal/logger"
)

// NoReadme is returned by Readme when a tool has no README.md.
const NoReadme = "No README available for this tool."

var (
	ErrToolNotFound      = errors.New("tool not found")
	ErrDestinationExists = errors.New("destination already exists")
)

// Tool describes one installable tool, read from its config.yaml.
type Tool struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Tags        []string `yaml:"tags"`

	// Dir is the tool's directory inside the local clone.
	Dir string `yaml:"-"`
}

// Cloner fetches a branch of a repository into dest.
type Cloner interface {
	Clone(ctx context.Context, repoURL, branch, dest string) error
}

// GitCloner shells out to git for a shallow clone.
type GitCloner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (g GitCloner) Clone(ctx context.Context, repoURL, branch, dest string) error {
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, dest)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdout = g.Stdout
	cmd.Stderr = g.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone %s: %w", repoURL, err)
	}
	return nil
}

// Manager works on a local clone of the tools repository.
type Manager struct {
	cfg    config.AssemblerConfig
	cloner Cloner
}

// New creates a manager. A nil cloner uses git.
func New(cfg config.AssemblerConfig, cloner Cloner) *Manager {
	if cloner == nil {
		cloner = GitCloner{Stderr: os.Stderr}
	}
	return &Manager{cfg: cfg, cloner: cloner}
}

// ToolsPath is the directory holding one sub-directory per tool.
func (m *Manager) ToolsPath() string {
	return filepath.Join(m.cfg.LocalDir, m.cfg.ToolsDir)
}

// Reset deletes the local clone so the next Ensure clones afresh.
func (m *Manager) Reset() error {
	logger.L.Info("removing local tools folder", "path", m.cfg.LocalDir)
	return os.RemoveAll(m.cfg.LocalDir)
}

// Ensure clones the repository unless a clone is already present.
func (m *Manager) Ensure(ctx context.Context) error {
	if _, err := os.Stat(m.ToolsPath()); err == nil {
		return nil
	}
	if entries, err := os.ReadDir(m.cfg.LocalDir); err == nil && len(entries) > 0 {
		return fmt.Errorf("%s exists but has no %s; rerun with --devmode to reset it", m.cfg.LocalDir, m.cfg.ToolsDir)
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.LocalDir), 0o755); err != nil {
		return err
	}
	logger.L.Info("cloning tools repository", "repo", m.cfg.RepoURL, "branch", m.cfg.Branch, "path", m.cfg.LocalDir)
	if err := m.cloner.Clone(ctx, m.cfg.RepoURL, m.cfg.Branch, m.cfg.LocalDir); err != nil {
		return err
	}
	if _, err := os.Stat(m.ToolsPath()); err != nil {
		return fmt.Errorf("repository has no %s directory: %w", m.cfg.ToolsDir, err)
	}
	return nil
}

// List returns every tool directory, sorted by name.
func (m *Manager) List() ([]Tool, error) {
	entries, err := os.ReadDir(m.ToolsPath())
	if err != nil {
		return nil, err
	}
	var out []Tool
	for _, e := range entries {
		if !e.IsDir() || isHidden(e.Name()) {
			continue
		}
		out = append(out, readTool(filepath.Join(m.ToolsPath(), e.Name())))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readTool(dir string) Tool {
	t := Tool{}
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		logger.L.Warn("cannot read tool config", "dir", dir, "error", err)
	default:
		if err := yaml.Unmarshal(data, &t); err != nil {
			logger.L.Warn("invalid tool config", "dir", dir, "error", err)
			t = Tool{}
		}
	}
	if t.Name == "" {
		t.Name = filepath.Base(dir)
	}
	t.Dir = dir
	return t
}

// Find looks a tool up by name or directory name.
func (m *Manager) Find(name string) (Tool, error) {
	tools, err := m.List()
	if err != nil {
		return Tool{}, err
	}
	for _, t := range tools {
		if strings.EqualFold(t.Name, name) || filepath.Base(t.Dir) == name {
			return t, nil
		}
	}
	return Tool{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// Readme returns the tool's README.md, or NoReadme.
func (m *Manager) Readme(t Tool) string {
	data, err := os.ReadFile(filepath.Join(t.Dir, "README.md"))
	if err != nil {
		return NoReadme
	}
	return string(data)
}

// Download copies the tool directory into destDir and returns the new path.
// Hidden files and directories are skipped. An existing target is never
// overwritten.
func (m *Manager) Download(t Tool, destDir string) (string, error) {
	target := filepath.Join(destDir, filepath.Base(t.Dir))
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%w: %s", ErrDestinationExists, target)
	}
	if err := copyTree(t.Dir, target); err != nil {
		_ = os.RemoveAll(target)
		return "", err
	}
	logger.L.Info("tool downloaded", "tool", t.Name, "path", target)
	return target, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
