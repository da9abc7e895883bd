package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/config"
	"piebrain/internal/guardian"
)

const gitSyncName = "git-sync"

// GitSync pulls and pushes the configured notes repository. Commands
// run as direct argv, never through a shell.
type GitSync struct {
	repoDir string
	runGit  func(ctx context.Context, repoDir string, args ...string) (string, error)
	log     *zap.Logger
}

func NewGitSync(cfg config.GitSyncConfig, log *zap.Logger) *GitSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &GitSync{
		repoDir: cfg.RepoDir,
		runGit:  runGit,
		log:     log,
	}
}

func (g *GitSync) Name() string { return gitSyncName }

func (g *GitSync) Run(ctx context.Context, params map[string]string, artifacts *capability.ArtifactWriter) (string, error) {
	if capability.IsProbe(params) {
		return artifacts.Write(gitSyncName, "# Git sync\n\n_Probe run; repository untouched._\n")
	}

	var report strings.Builder
	fmt.Fprintf(&report, "# Git sync: %s\n\n", g.repoDir)

	pullOut, err := g.runGit(ctx, g.repoDir, "pull", "--rebase")
	if err != nil {
		return "", fmt.Errorf("git pull --rebase: %w", err)
	}
	writeStep(&report, "pull --rebase", pullOut)

	pushOut, err := g.runGit(ctx, g.repoDir, "push")
	if err != nil {
		return "", fmt.Errorf("git push: %w", err)
	}
	writeStep(&report, "push", pushOut)

	g.log.Info("git sync complete", zap.String("repo", g.repoDir))
	return artifacts.Write(gitSyncName, report.String())
}

// Command exposes the pull as a standalone spawn. The push half needs
// the sync report, so a detached run only fast-forwards.
func (g *GitSync) Command(params map[string]string) (string, error) {
	return "git -C " + guardian.Quote(g.repoDir) + " pull --rebase", nil
}

func writeStep(b *strings.Builder, step, out string) {
	fmt.Fprintf(b, "## git %s\n\n", step)
	if out == "" {
		out = "(no output)"
	}
	fmt.Fprintf(b, "```\n%s\n```\n\n", out)
}

func runGit(ctx context.Context, repoDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", repoDir}, args...)...)
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed != "" {
			return "", fmt.Errorf("%w: %s", err, trimmed)
		}
		return "", err
	}
	return trimmed, nil
}
