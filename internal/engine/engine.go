// Package engine runs the external population synthesizer as an isolated
// subprocess, one batch of states at a time.
package engine

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Job is one synthesizer invocation.
type Job struct {
	Name string
	// ConfigDirs are passed in order, each as its own --config flag.
	ConfigDirs []string
	DataDir    string
	OutputDir  string
	// Expect is the output file whose presence marks success.
	Expect string
}

// Runner runs a synthesizer job.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// DefaultCommand launches the synthesizer through its python entry point.
var DefaultCommand = []string{"python", "-m", "run_populationsim"}

// maxStderr bounds the stderr tail carried in errors.
const maxStderr = 4096

// Subprocess runs the synthesizer command with --config, --data and
// --output flags appended.
type Subprocess struct {
	command []string
	workDir string
	env     []string
}

// NewSubprocess creates a runner. An empty command uses DefaultCommand.
func NewSubprocess(command []string, workDir string, env map[string]string) *Subprocess {
	if len(command) == 0 {
		command = DefaultCommand
	}
	s := &Subprocess{command: command, workDir: workDir}
	for k, v := range env {
		s.env = append(s.env, k+"="+v)
	}
	return s
}

// Args returns the full argument vector of job.
func (s *Subprocess) Args(job Job) []string {
	args := append([]string(nil), s.command...)
	for _, c := range job.ConfigDirs {
		args = append(args, "--config", c)
	}
	return append(args, "--data", job.DataDir, "--output", job.OutputDir)
}

// Run executes job. It fails on a non-zero exit or when the expected output
// file is missing afterwards.
func (s *Subprocess) Run(ctx context.Context, job Job) error {
	log := zap.L().With(zap.String("component", "engine"), zap.String("batch", job.Name))

	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return eris.Wrapf(err, "engine: create output dir for %s", job.Name)
	}

	args := s.Args(job)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = s.workDir
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	log.Info("starting synthesizer", zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "engine: synthesizer failed for %s: %s", job.Name, tail(stderr.String()))
	}
	log.Info("synthesizer finished", zap.Duration("elapsed", time.Since(start)))

	if job.Expect != "" {
		if _, err := os.Stat(job.Expect); err != nil {
			return eris.Errorf("engine: synthesizer for %s exited cleanly but %s is missing", job.Name, job.Expect)
		}
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return "..." + s[len(s)-maxStderr:]
	}
	return s
}
