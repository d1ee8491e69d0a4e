package iptables

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Manager runs rule operations against an Executor and logs each command.
type Manager struct {
	executor Executor
	binary   string
	logger   *slog.Logger
}

// NewManager returns a Manager. binary is only used to render command lines
// in messages and logs.
func NewManager(executor Executor, binary string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if binary == "" {
		binary = DefaultBinary
	}
	return &Manager{executor: executor, binary: binary, logger: logger}
}

// List returns the non-empty lines of the chain listing.
func (m *Manager) List(ctx context.Context, table string, chain string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := BuildList(table, chain)
	m.logger.Debug("listing rules", slog.String("table", table), slog.String("chain", chain))
	out, err := m.executor.Run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", table, chain, err)
	}
	return SplitLines(out), nil
}

// Add appends a structured rule and returns the executed command line.
func (m *Manager) Add(ctx context.Context, spec AddSpec) (string, error) {
	args, err := BuildAdd(spec)
	if err != nil {
		return "", err
	}
	return m.run(ctx, "add", args)
}

// Delete removes a rule by number and returns the executed command line.
func (m *Manager) Delete(ctx context.Context, spec DeleteSpec) (string, error) {
	args, err := BuildDelete(spec)
	if err != nil {
		return "", err
	}
	return m.run(ctx, "delete", args)
}

// AddRaw runs a free-form rule fragment and returns the executed command line.
func (m *Manager) AddRaw(ctx context.Context, spec RawSpec) (string, error) {
	args, err := BuildRaw(spec)
	if err != nil {
		return "", err
	}
	return m.run(ctx, "add_raw", args)
}

func (m *Manager) run(ctx context.Context, operation string, args []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	line := CommandLine(m.binary, args)
	m.logger.Info("running iptables", slog.String("operation", operation), slog.String("command", line))
	if _, err := m.executor.Run(ctx, args...); err != nil {
		m.logger.Warn("iptables command failed",
			slog.String("operation", operation),
			slog.String("command", line),
			slog.Any("error", err),
		)
		return line, err
	}
	return line, nil
}

// SplitLines splits command output into lines, dropping empty ones.
func SplitLines(out string) []string {
	lines := []string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
