package governance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
	"github.com/roach88/rsi/internal/runner"
)

// Deployer names recorded in DeploymentRecord.Deployer.
const (
	DeployerProcess  = "process"
	DeployerResource = "resource"
	DeployerRevenue  = "revenue"
	DeployerGeneric  = "generic"
)

// deployer activates one artifact. It is a record.Visitor so that every
// kind is routed to exactly one deployment strategy.
type deployer struct {
	ctx           context.Context
	run           runner.Runner
	artifact      queue.Artifact
	automationDir string
	genericTarget string
	timeout       time.Duration

	name    string
	targets []string
}

var _ record.Visitor = (*deployer)(nil)

func (d *deployer) ProcessFailure(record.Finding, record.ProcessDetail) error {
	d.name = DeployerProcess
	dir := filepath.Join(d.automationDir, d.artifact.StagingID)
	for _, f := range []string{"restart.sh", "monitor.sh"} {
		if err := d.install(f, dir, 0o755); err != nil {
			return err
		}
	}
	return d.activate(dir, "restart.sh")
}

func (d *deployer) ResourceConstraint(record.Finding, record.ResourceDetail) error {
	d.name = DeployerResource
	dir := filepath.Join(d.automationDir, d.artifact.StagingID)
	if err := d.install("cleanup.sh", dir, 0o755); err != nil {
		return err
	}
	return d.activate(dir, "cleanup.sh")
}

func (d *deployer) ErrorRate(f record.Finding, _ record.ErrorRateDetail) error {
	return d.Generic(f)
}

func (d *deployer) ArchitectureImprovement(f record.Finding) error {
	return d.Generic(f)
}

func (d *deployer) Automation(f record.Finding) error {
	return d.Generic(f)
}

func (d *deployer) RevenueOptimization(f record.Finding) error {
	d.name = DeployerRevenue
	dir := filepath.Join(d.automationDir, d.artifact.StagingID)
	n := 0
	for _, rel := range d.artifact.Files {
		if filepath.Ext(rel) != ".py" {
			continue
		}
		if err := d.install(rel, dir, 0o644); err != nil {
			return err
		}
		n++
	}
	if n == 0 {
		return fmt.Errorf("no integration code in %s", d.artifact.StagingID)
	}
	return nil
}

func (d *deployer) Generic(record.Finding) error {
	d.name = DeployerGeneric
	if err := copyTree(d.artifact.Dir, d.genericTarget); err != nil {
		return err
	}
	d.targets = append(d.targets, d.genericTarget)
	return nil
}

func (d *deployer) install(rel, dir string, mode os.FileMode) error {
	dst := filepath.Join(dir, filepath.Base(filepath.FromSlash(rel)))
	if err := copyFile(filepath.Join(d.artifact.Dir, filepath.FromSlash(rel)), dst, mode); err != nil {
		return fmt.Errorf("install %s: %w", rel, err)
	}
	d.targets = append(d.targets, dst)
	return nil
}

// activate runs script synchronously from dir with the activation timeout.
func (d *deployer) activate(dir, script string) error {
	res, err := d.run.Run(d.ctx, runner.Command{
		Name:    "bash",
		Args:    []string{filepath.Join(dir, script)},
		Dir:     dir,
		Timeout: d.timeout,
	})
	if err != nil {
		return fmt.Errorf("activate %s: %w", script, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("activate %s: exit status %d: %s", script, res.ExitCode, record.Truncate(strings.TrimSpace(res.Stderr), 200))
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}

// copyTree copies src into dst, skipping hidden files such as the
// .validated marker.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && strings.HasPrefix(entry.Name(), ".") {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

// hashFiles returns the SHA-256 of every generated file of a.
func hashFiles(a queue.Artifact) ([]record.FileHash, error) {
	out := make([]record.FileHash, 0, len(a.Files))
	for _, rel := range a.Files {
		f, err := os.Open(filepath.Join(a.Dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		h := sha256.New()
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, record.FileHash{Path: rel, SHA256: hex.EncodeToString(h.Sum(nil))})
	}
	return out, nil
}
