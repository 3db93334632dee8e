// Package process runs shell commands with a timeout while streaming their
// output.
//
// A Runner never fails outward: spawn errors, timeouts and non-zero exits are
// all folded into a Result. Stdout and stderr are read concurrently and each
// chunk is echoed to the runner's writers as it arrives. The timeout is a
// context deadline; when it fires the whole process group is killed and the
// result carries a nil exit code.
//
// On Windows there are no process groups to signal: only cmd.exe itself is
// killed, and children it started may outlive the timeout.
package process

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout applies when Run is called with a non-positive timeout.
	DefaultTimeout = 10 * time.Second
	// SpawnFailureExitCode is reported when the shell could not be started.
	SpawnFailureExitCode = 127
	// drainGrace bounds how long readers may block after the process group
	// has been killed, e.g. when a daemonized grandchild holds the pipes.
	drainGrace = 2 * time.Second
	chunkSize  = 4096
)

// Result is the outcome of one command.
type Result struct {
	// ExitCode is nil if the runner killed the process on timeout.
	ExitCode *int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Runner spawns commands through a shell.
type Runner struct {
	// Shell and ShellFlag form the interpreter prefix, e.g. "sh" "-c".
	Shell     string
	ShellFlag string
	// EchoStdout and EchoStderr receive every captured chunk in real time.
	// Nil writers disable echo.
	EchoStdout io.Writer
	EchoStderr io.Writer
	Logger     *zap.Logger
}

// NewRunner returns a runner using the platform shell and the given echo
// writers.
func NewRunner(stdout, stderr io.Writer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	shell, flag := defaultShell()
	return &Runner{
		Shell:      shell,
		ShellFlag:  flag,
		EchoStdout: stdout,
		EchoStderr: stderr,
		Logger:     logger,
	}
}

// Run executes command and waits for it to exit or for timeout to elapse.
// A nil stdin gives the child an empty, already closed input stream.
func (r *Runner) Run(ctx context.Context, command string, stdin *string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := r.logger().With(zap.String("command", command), zap.Duration("timeout", timeout))
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, flag := r.Shell, r.ShellFlag
	if shell == "" {
		shell, flag = defaultShell()
	}
	cmd := exec.Command(shell, flag, command)
	configureProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return spawnFailure(err, start)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return spawnFailure(err, start)
	}
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return spawnFailure(err, start)
	}

	if err := cmd.Start(); err != nil {
		logger.Debug("spawn failed", zap.Error(err))
		// Start closes the pipes it created on failure.
		return spawnFailure(err, start)
	}

	var stdoutBuf, stderrBuf lockedBuffer
	g := new(errgroup.Group)
	g.Go(func() error { return capture(stdoutPipe, &stdoutBuf, r.EchoStdout) })
	g.Go(func() error { return capture(stderrPipe, &stderrBuf, r.EchoStderr) })
	g.Go(func() error { return feed(stdinPipe, stdin) })

	// The watchdog is the timer half of the run. It stays armed until the
	// child has been reaped, not merely until the pipes hit EOF: a command
	// may close its own stdout and stderr and keep running. After a kill it
	// unblocks the readers if no clean EOF arrives within the grace period.
	// It is always joined before Run returns.
	readersDone := make(chan struct{})
	waitDone := make(chan struct{})
	var watchdog sync.WaitGroup
	watchdog.Add(1)
	go func() {
		defer watchdog.Done()
		select {
		case <-waitDone:
			return
		case <-runCtx.Done():
		}
		if err := killProcessGroup(cmd); err != nil {
			logger.Debug("kill failed", zap.Error(err))
		}
		grace := time.NewTimer(drainGrace)
		defer grace.Stop()
		select {
		case <-readersDone:
		case <-waitDone:
		case <-grace.C:
			logger.Warn("output pipes still open after kill, closing")
			_ = stdoutPipe.Close()
			_ = stderrPipe.Close()
			_ = stdinPipe.Close()
		}
	}()

	readErr := g.Wait()
	close(readersDone)
	waitErr := cmd.Wait()
	// Capture the timer state before disarming it.
	killedErr := runCtx.Err()
	close(waitDone)
	cancel()
	watchdog.Wait()

	res := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}
	if readErr != nil {
		logger.Debug("output capture ended with error", zap.Error(readErr))
	}

	state := cmd.ProcessState
	switch {
	case state == nil:
		// Wait could not reap the child; report like a spawn failure so the
		// result keeps its shape.
		code := SpawnFailureExitCode
		res.ExitCode = &code
		if waitErr != nil {
			res.Stderr = appendLine(res.Stderr, waitErr.Error())
		}
	case state.Exited():
		code := state.ExitCode()
		res.ExitCode = &code
	case killedErr != nil:
		// Killed by us. A nil exit code tells callers apart from a command
		// that failed on its own.
		res.TimedOut = killedErr == context.DeadlineExceeded
	default:
		code := signalExitCode(state)
		res.ExitCode = &code
	}

	logger.Debug("command finished",
		zap.Duration("duration", res.Duration),
		zap.Bool("timed_out", res.TimedOut),
		zap.Intp("exit_code", res.ExitCode))
	return res
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func spawnFailure(err error, start time.Time) Result {
	code := SpawnFailureExitCode
	return Result{
		ExitCode: &code,
		Stderr:   err.Error(),
		Duration: time.Since(start),
	}
}

// capture copies src into buf, mirroring every chunk to echo.
func capture(src io.Reader, buf *lockedBuffer, echo io.Writer) error {
	chunk := make([]byte, chunkSize)
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if echo != nil {
				// Echo is best effort; a broken terminal must not lose output.
				_, _ = echo.Write(chunk[:n])
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func feed(dst io.WriteCloser, stdin *string) error {
	if stdin != nil && *stdin != "" {
		if _, err := io.Copy(dst, strings.NewReader(*stdin)); err != nil {
			// The child may exit without reading its input; that is not our
			// failure to report.
			_ = dst.Close()
			return nil
		}
	}
	return dst.Close()
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}

// lockedBuffer guards a bytes.Buffer; the watchdog may close pipes while a
// reader is mid-write.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
