// Package render invokes the external rendering engine for a single frame.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/execx"
)

const (
	// OutputPrefix names the engine output inside the working directory.
	// The engine appends the frame number and its own extension.
	OutputPrefix = "output_file_"

	// DefaultBinaryPath is used when no renderer binary is configured
	DefaultBinaryPath = "/bin/blender/3.6.2/blender"
)

// Config holds engine settings
type Config struct {
	Logger     *slog.Logger
	Runner     execx.Runner
	BinaryPath string
	// GPUScript is run by the engine after initialization to enable the chosen device
	GPUScript string
}

// Engine builds and runs render invocations
type Engine struct {
	logger     *slog.Logger
	runner     execx.Runner
	binaryPath string
	gpuScript  string
}

// NewEngine creates an engine
func NewEngine(cfg *Config) *Engine {
	binary := cfg.BinaryPath
	if binary == "" {
		binary = DefaultBinaryPath
	}
	return &Engine{
		logger:     cfg.Logger,
		runner:     cfg.Runner,
		binaryPath: binary,
		gpuScript:  cfg.GPUScript,
	}
}

// Invocation is one frame render request
type Invocation struct {
	InputPath string
	WorkDir   string
	Frame     int // 1-based
	GPU       *domain.GPUDescriptor
}

// Args returns the engine arguments for inv
func (e *Engine) Args(inv Invocation) []string {
	args := []string{
		"-b", inv.InputPath,
		"-o", filepath.Join(inv.WorkDir, OutputPrefix),
	}
	if e.gpuScript != "" {
		args = append(args, "-P", e.gpuScript)
	}
	args = append(args, "-f", strconv.Itoa(inv.Frame))
	if inv.GPU != nil {
		args = append(args, "--", inv.GPU.Name)
	}
	return args
}

// Render runs the engine and returns the path of the artifact it produced
func (e *Engine) Render(ctx context.Context, inv Invocation) (string, error) {
	args := e.Args(inv)

	e.logger.Info("Running render command",
		slog.String("binary", e.binaryPath),
		slog.String("args", strings.Join(args, " ")),
	)

	_, stderr, err := e.runner.Run(ctx, e.binaryPath, args...)
	if err != nil {
		return "", &domain.ExecutionError{
			Command:  e.binaryPath,
			ExitCode: execx.ExitCode(err),
			Stderr:   execx.Truncate(string(stderr), 8<<10),
			Err:      err,
		}
	}

	return LocateOutput(inv.WorkDir)
}

// LocateOutput finds the engine artifact in workDir, whatever extension the engine chose
func LocateOutput(workDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(workDir, OutputPrefix+"*"))
	if err != nil {
		return "", fmt.Errorf("failed to search render output: %w", err)
	}
	sort.Strings(matches)

	for _, m := range matches {
		info, err := os.Stat(m)
		if err == nil && info.Mode().IsRegular() {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w in %s", domain.ErrNoRenderOutput, workDir)
}
