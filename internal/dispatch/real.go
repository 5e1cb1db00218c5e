package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/logging"
	"github.com/akitorahayashi/jlo/internal/prompt"
	"github.com/akitorahayashi/jlo/internal/requirement"
	"github.com/akitorahayashi/jlo/internal/session"
)

const requirementSeparator = "\n---\n# Requirement Content\n"

// Real dispatches work items as remote agent sessions.
type Real struct {
	Paths        layer.Paths
	Config       *config.Config
	WorkerBranch string
	Assembler    prompt.Assembler
	Sessions     session.Creator
	// Source resolves the session source; only called when a session is
	// actually created.
	Source func(ctx context.Context) (string, error)
	Out    io.Writer
	Logger *zap.SugaredLogger
}

func (d *Real) Dispatch(ctx context.Context, item layer.WorkItem, opts Options) (Result, error) {
	branch := d.startingBranch(item.Layer, opts)
	content, err := d.assemble(item)
	if err != nil {
		return Result{}, err
	}

	if opts.Preview {
		fmt.Fprintf(d.out(), "Assembled prompt: %d chars\n", utf8.RuneCountInString(content))
		fmt.Fprintf(d.out(), "Starting branch: %s\n", branch)
		return Result{Status: StatusPreviewed, Branch: branch}, nil
	}

	source, err := d.Source(ctx)
	if err != nil {
		return Result{}, err
	}
	resp, err := d.Sessions.CreateSession(ctx, session.Request{
		Prompt:              content,
		Source:              source,
		StartingBranch:      branch,
		RequirePlanApproval: false,
		AutomationMode:      session.AutoCreatePR,
	})
	if err != nil {
		return Result{}, err
	}
	d.logger().Infow("session created", "item", item.String(), "session_id", resp.SessionID, "status", resp.Status)
	return Result{Status: StatusDispatched, SessionID: resp.SessionID, Branch: branch}, nil
}

func (d *Real) startingBranch(l layer.Layer, opts Options) string {
	if opts.Branch != "" {
		return opts.Branch
	}
	if l == layer.Implementers {
		return d.Config.Run.DefaultBranch
	}
	if d.WorkerBranch != "" {
		return d.WorkerBranch
	}
	return d.Config.Run.JulesBranch
}

func (d *Real) assemble(item layer.WorkItem) (string, error) {
	vars := prompt.Context{"layer": item.Layer.DirName()}
	if item.Role != "" {
		vars["role"] = item.Role
	}
	var reqContent string
	if item.Path != "" {
		data, err := os.ReadFile(item.Path)
		if err != nil {
			return "", fmt.Errorf("read requirement: %w", err)
		}
		h, err := requirement.ParseHeader(data, d.Paths.Rel(item.Path))
		if err != nil {
			return "", err
		}
		if err := checkLabel(h.Label, item.Layer); err != nil {
			return "", err
		}
		reqContent = string(data)
		vars["requirement_path"] = d.Paths.Rel(item.Path)
		vars["requirement_content"] = reqContent
	}
	if item.Layer == layer.Observers {
		task, err := d.bridgeTask()
		if err != nil {
			return "", err
		}
		vars["bridge_task"] = task
	}

	assembled, err := d.Assembler.Assemble(item.Layer, vars)
	if err != nil {
		return "", err
	}
	for _, skipped := range assembled.SkippedFiles {
		d.logger().Debugw("optional prompt include missing", "path", skipped)
	}
	if item.Path != "" {
		return assembled.Content + requirementSeparator + reqContent, nil
	}
	return assembled.Content, nil
}

func checkLabel(label string, l layer.Layer) error {
	if label == "" {
		if l == layer.Implementers {
			return apperr.Validation("requirement is missing a label")
		}
		return nil
	}
	if !layer.IsSafePathComponent(label) {
		return apperr.Validation("invalid requirement label '%s'", label)
	}
	return nil
}

// bridgeTask returns the observer bridge-comments task when any innovator
// persona currently holds an idea. Directory listing failures degrade to no
// task.
func (d *Real) bridgeTask() (string, error) {
	entries, err := os.ReadDir(d.Paths.Innovators())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger().Warnw("could not list innovator personas", "error", err)
		}
		return "", nil
	}
	hasIdea := false
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(d.Paths.InnovatorIdea(e.Name())); err == nil {
			hasIdea = true
			break
		}
	}
	if !hasIdea {
		return "", nil
	}
	taskPath := filepath.Join(d.Paths.TasksDir(layer.Observers), "bridge_comments.yml")
	data, err := os.ReadFile(taskPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.Validation("innovator ideas exist but %s is missing", d.Paths.Rel(taskPath))
		}
		return "", fmt.Errorf("read bridge task: %w", err)
	}
	return string(data), nil
}

func (d *Real) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

func (d *Real) logger() *zap.SugaredLogger { return logging.OrNop(d.Logger) }
