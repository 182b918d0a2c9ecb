// Package rclone runs the rclone binary as the sync executor. The remote
// destination for a local directory is derived from the configured remote
// name, a namespace prefix and the directory's base name, so the same local
// folder always lands in the same remote folder.
package rclone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Defaults matching the layout the desktop app has always used.
const (
	DefaultBinary = "rclone"
	DefaultRemote = "gdrive"
	DefaultPrefix = "slynk_backup"
)

// ErrNoBaseName is returned for local paths without a usable base name
// (for example "/").
var ErrNoBaseName = errors.New("rclone: local path has no base name")

// Config configures an Executor.
type Config struct {
	Binary    string   // executable name or path
	Remote    string   // rclone remote name, without the trailing colon
	Prefix    string   // folder on the remote that holds every backup
	ExtraArgs []string // appended after the copy arguments
}

// Executor copies a local directory to its derived remote destination with
// "rclone copy". It is safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	// commandFunc builds the command; tests substitute a fake binary.
	commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates an Executor, filling empty fields with defaults.
func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}

	if cfg.Remote == "" {
		cfg.Remote = DefaultRemote
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	return &Executor{
		cfg:         cfg,
		logger:      logger,
		commandFunc: exec.CommandContext,
	}
}

// Destination returns the remote destination for localPath, e.g.
// "gdrive:slynk_backup/photos". The base name is NFC-normalized so a folder
// name typed on macOS (NFD) and on Linux maps to the same remote folder.
func (e *Executor) Destination(localPath string) (string, error) {
	base := filepath.Base(filepath.Clean(localPath))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrNoBaseName, localPath)
	}

	base = norm.NFC.String(base)
	prefix := strings.Trim(e.cfg.Prefix, "/")

	return e.cfg.Remote + ":" + path.Join(prefix, base), nil
}

// Args returns the full rclone argument list for a copy of localPath.
func (e *Executor) Args(configPath, localPath string) ([]string, error) {
	dest, err := e.Destination(localPath)
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, 5+len(e.cfg.ExtraArgs))
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	args = append(args, "copy", localPath, dest)
	args = append(args, e.cfg.ExtraArgs...)

	return args, nil
}

// Execute runs "rclone copy". On success it returns stdout; on failure the
// error carries stderr (or the exec error when rclone could not start).
func (e *Executor) Execute(ctx context.Context, configPath, localPath string) (string, error) {
	dest, err := e.Destination(localPath)
	if err != nil {
		return "", err
	}

	args, err := e.Args(configPath, localPath)
	if err != nil {
		return "", err
	}

	e.logger.Info("starting rclone copy",
		slog.String("local_path", localPath),
		slog.String("destination", dest),
	)

	stdout, stderr, err := e.run(ctx, args...)
	if err != nil {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			return stdout, fmt.Errorf("rclone copy %s: %w", localPath, err)
		}

		return stdout, fmt.Errorf("rclone copy %s: %w: %s", localPath, err, msg)
	}

	e.logger.Info("rclone copy completed", slog.String("local_path", localPath))

	return stdout, nil
}

// Version runs "rclone version" and returns its output.
func (e *Executor) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := e.run(ctx, "version")
	if err != nil {
		return "", fmt.Errorf("rclone version: %w: %s", err, strings.TrimSpace(stderr))
	}

	return stdout, nil
}

func (e *Executor) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := e.commandFunc(ctx, e.cfg.Binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}
