package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultChunkSize is how many stdout bytes Stream forwards per chunk.
const DefaultChunkSize = 4096

// CommandRunner is the interface for running commands.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error)
	Start(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr io.ReadCloser, wait func() error, err error)
}

// ExecCommandRunner uses os/exec.
type ExecCommandRunner struct{}

// Run runs a command.
func (ExecCommandRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Start starts a command.
func (ExecCommandRunner) Start(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr io.ReadCloser, wait func() error, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}

	return stdoutPipe, stderrPipe, cmd.Wait, nil
}

// Executor runs one binary with a timeout per invocation.
type Executor struct {
	runner     CommandRunner
	binaryPath string
	timeout    time.Duration
	chunkSize  int
}

// NewExecutor creates an executor. binaryPath may be a bare name resolved
// through PATH.
func NewExecutor(binaryPath string, timeout time.Duration) (*Executor, error) {
	resolved, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("binary not found: %w", err)
	}

	return NewExecutorWithRunner(resolved, timeout, ExecCommandRunner{}), nil
}

// NewExecutorWithRunner creates an executor with a custom runner.
func NewExecutorWithRunner(binaryPath string, timeout time.Duration, runner CommandRunner) *Executor {
	return &Executor{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     runner,
		chunkSize:  DefaultChunkSize,
	}
}

// BinaryPath returns the resolved binary.
func (e *Executor) BinaryPath() string {
	return e.binaryPath
}

// Execute runs the command and returns output.
func (e *Executor) Execute(ctx context.Context, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	return e.runner.Run(ctx, e.binaryPath, args, stdin)
}

// Stream runs the command and streams stdout in chunks of at most the
// executor's chunk size. The last chunk has Done set and carries the exit
// error, if any.
func (e *Executor) Stream(ctx context.Context, args []string, stdin io.Reader) (<-chan StreamChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)

	stdout, stderr, wait, err := e.runner.Start(ctx, e.binaryPath, args, stdin)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executor: failed to start command: %w", err)
	}

	ch := make(chan StreamChunk, 32)

	go func() {
		defer close(ch)
		defer cancel()

		stderrBuf := new(bytes.Buffer)
		stderrDone := make(chan struct{})
		go func() {
			if _, err := io.Copy(stderrBuf, stderr); err != nil {
				slog.Debug("Failed to read stderr", "error", err)
			}
			close(stderrDone)
		}()

		// A consumer that stops reading cancels ctx; no send may outlive it.
		send := func(c StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// abort kills the process and reaps it.
		abort := func() {
			cancel()
			if err := wait(); err != nil {
				slog.Debug("Streaming command stopped", "binary", e.binaryPath, "error", err)
			}
		}

		for {
			buf := make([]byte, e.chunkSize)
			n, err := io.ReadFull(stdout, buf)
			if n > 0 && !send(StreamChunk{Data: buf[:n]}) {
				abort()
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			if err != nil {
				send(StreamChunk{Error: err, Done: true})
				abort()
				return
			}
		}

		<-stderrDone
		err := wait()

		switch {
		case err == nil:
			send(StreamChunk{Done: true})
		case stderrBuf.Len() > 0:
			send(StreamChunk{Error: fmt.Errorf("%w: %s", err, stderrBuf.String()), Done: true})
		default:
			send(StreamChunk{Error: err, Done: true})
		}
	}()

	return ch, nil
}
