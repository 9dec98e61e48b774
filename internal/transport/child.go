package transport

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"

	"github.com/roadrunner-server/phpbridge/internal/phperr"
)

const childOp = errors.Op("transport_child")

// ChildProcess is the lifecycle surface of a spawned PHP interpreter,
// modeled on a BaseProcess/SyncWorker split (Pid, Created, State, Start,
// Wait, Stop, Kill), generalized from executing one payload to carrying
// the bridge's control channel for as long as it lives.
type ChildProcess struct {
	cmd     *exec.Cmd
	created time.Time
	log     *zap.Logger

	stdinPipe io.WriteCloser
	stdoutRaw io.ReadCloser // nil when Stdout == StdoutInherit or StdoutNull

	waitErr  chan error
	waitOnce chan struct{}
}

// Pid returns the process id, or -1 before Start.
func (c *ChildProcess) Pid() int {
	if c.cmd.Process == nil {
		return -1
	}
	return c.cmd.Process.Pid
}

// Created returns when the process was started.
func (c *ChildProcess) Created() time.Time { return c.created }

// StartChildProcess launches the configured PHP binary and writes the
// handshake line to its stdin, as the child-process transport's half of
// attach.
func StartChildProcess(cfg ChildConfig, hs *Handshake, socketURI, initScript string, log *zap.Logger) (*ChildProcess, error) {
	args := childArgs(cfg)
	args = append(args, cfg.OverrideArgs...)

	binary := cfg.PHPCLIName
	if binary == "" {
		binary = "php"
	}

	cmd := exec.Command(binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.E(childOp, err)
	}

	var stdoutRaw io.ReadCloser
	switch cfg.Stdout {
	case StdoutPiped:
		stdoutRaw, err = cmd.StdoutPipe()
		if err != nil {
			_ = stdin.Close()
			return nil, errors.E(childOp, err)
		}
	case StdoutNull:
		cmd.Stdout = nil
	default: // StdoutInherit
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, errors.E(childOp, err)
	}

	c := &ChildProcess{
		cmd:       cmd,
		created:   time.Now(),
		log:       log,
		stdinPipe: stdin,
		stdoutRaw: stdoutRaw,
		waitErr:   make(chan error, 1),
		waitOnce:  make(chan struct{}),
	}
	go c.waitInBackground()

	line := hs.Line(socketURI, initScript) + "\n"
	if _, err := io.WriteString(stdin, line); err != nil {
		return nil, errors.E(childOp, err)
	}

	return c, nil
}

func childArgs(cfg ChildConfig) []string {
	if cfg.InterpreterScript != "" {
		return []string{"-f", cfg.InterpreterScript}
	}
	return []string{"-r", cfg.InlineBootstrap}
}

func (c *ChildProcess) waitInBackground() {
	err := c.cmd.Wait()
	c.waitErr <- err
	close(c.waitOnce)
}

// Stdout returns the readable stdout stream when StdoutPiped was
// configured, else nil.
func (c *ChildProcess) Stdout() io.Reader { return c.stdoutRaw }

// Wait blocks until the process exits and returns its exit code (or
// phperr.UnknownExitCode if it could not be determined).
func (c *ChildProcess) Wait() int {
	<-c.waitOnce
	err := <-c.waitErr
	c.waitErr <- err // keep it available for a second caller
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return phperr.UnknownExitCode
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// Stop sends a soft termination: closing stdin asks a well-behaved
// bootstrap script to exit; Kill escalates if it doesn't.
func (c *ChildProcess) Stop() error {
	return c.stdinPipe.Close()
}

// Kill forcibly terminates the process. Callers must still call Wait to
// reap it.
func (c *ChildProcess) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

// StageBootstrapFile writes src to a temp file for transports (FastCGI)
// that need SCRIPT_FILENAME to point at a real path on disk, naming it
// with a random suffix so concurrent bridges never collide.
func StageBootstrapFile(dir, suffix string, src []byte) (string, func(), error) {
	const op = errors.Op("transport_stage_bootstrap")
	f, err := os.CreateTemp(dir, fmt.Sprintf("phpbridge-bootstrap-%s-*.php", suffix))
	if err != nil {
		return "", nil, errors.E(op, err)
	}
	if _, err := f.Write(src); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", nil, errors.E(op, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", nil, errors.E(op, err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	return f.Name(), cleanup, nil
}
