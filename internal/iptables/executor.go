package iptables

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultBinary is the iptables executable used when none is configured.
const DefaultBinary = "/sbin/iptables"

// Executor runs iptables with the given arguments and returns its standard
// output.
type Executor interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// CommandError captures detailed failure information from command execution.
type CommandError struct {
	Command string
	Args    []string
	Stderr  string
	Err     error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	joined := strings.Join(e.Args, " ")
	if e.Stderr != "" {
		return fmt.Sprintf("command %s %s failed: %v: %s", e.Command, joined, e.Err, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("command %s %s failed: %v", e.Command, joined, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Detail is the text shown to the operator: the tool's own stderr, or the
// process error when stderr is empty.
func (e *CommandError) Detail() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return s
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// RealExecutor executes iptables on the host, optionally through sudo.
type RealExecutor struct {
	Binary string
	Sudo   bool
}

// NewExecutor constructs a RealExecutor for binary.
func NewExecutor(binary string, sudo bool) *RealExecutor {
	if binary == "" {
		binary = DefaultBinary
	}
	return &RealExecutor{Binary: binary, Sudo: sudo}
}

// Command returns the program and leading arguments used for every call.
func (r *RealExecutor) Command(args []string) (string, []string) {
	if r.Sudo {
		return "sudo", append([]string{r.Binary}, args...)
	}
	return r.Binary, append([]string(nil), args...)
}

// Run executes iptables and returns stdout. A non-zero exit yields a
// *CommandError carrying the captured stderr.
func (r *RealExecutor) Run(ctx context.Context, args ...string) (string, error) {
	name, argv := r.Command(args)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), &CommandError{
			Command: name,
			Args:    argv,
			Stderr:  stderr.String(),
			Err:     err,
		}
	}
	return stdout.String(), nil
}

var selectionErrors = []string{
	"No chain/target/match by that name",
	"can't initialize iptables table",
	"Table does not exist",
}

// IsSelectionError reports whether err is iptables rejecting the requested
// table or chain, as opposed to iptables itself being unavailable.
func IsSelectionError(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	for _, marker := range selectionErrors {
		if strings.Contains(cmdErr.Stderr, marker) {
			return true
		}
	}
	return false
}
