package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/output"
	"github.com/3leaps/lagsearch/pkg/series"
)

// DefaultReadyTimeout bounds the init/ready handshake.
const DefaultReadyTimeout = 30 * time.Second

// ProcessConfig describes the worker command.
type ProcessConfig struct {
	// Command is the worker executable. Empty means the running binary
	// with the "worker" subcommand.
	Command string
	Args    []string

	// Env is appended to the parent environment.
	Env []string

	MaxLineBytes int
	ReadyTimeout time.Duration
	Logger       *zap.Logger
}

// Process runs each session in its own worker process.
type Process struct {
	cfg ProcessConfig
}

func NewProcess(cfg ProcessConfig) *Process {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	return &Process{cfg: cfg}
}

// ResolveWorker returns the path of the executable a Process with the given
// command would launch. Empty means the running binary.
func ResolveWorker(command string) (string, error) {
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("resolve executable: %w", err)
		}
		return exe, nil
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("resolve worker %q: %w", command, err)
	}
	return path, nil
}

func (p *Process) command() (string, []string, error) {
	if p.cfg.Command != "" {
		return p.cfg.Command, append([]string(nil), p.cfg.Args...), nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("resolve executable: %w", err)
	}
	return exe, append([]string{"worker"}, p.cfg.Args...), nil
}

// Start spawns a worker, sends the dataset and waits for it to report ready.
func (p *Process) Start(ctx context.Context, ds series.Dataset, options json.RawMessage) (Session, error) {
	path, args, err := p.command()
	if err != nil {
		return nil, &WorkerError{Op: "start", Err: fmt.Errorf("%w: %w", ErrLaunch, err)}
	}

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &WorkerError{Op: "start", Err: fmt.Errorf("%w: %w", ErrLaunch, err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &WorkerError{Op: "start", Err: fmt.Errorf("%w: %w", ErrLaunch, err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &WorkerError{Op: "start", Err: fmt.Errorf("%w: %w", ErrLaunch, err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &WorkerError{Op: "start", Err: fmt.Errorf("%w: %w", ErrLaunch, err)}
	}

	s := &processSession{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdin:  stdin,
		out:    output.NewJSONLWriter(stdin, ""),
		recs:   make(chan output.Record),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: p.cfg.Logger.With(zap.Int("worker_pid", cmd.Process.Pid)),
	}

	dec := output.NewDecoder(stdout)
	dec.SetMaxLineBytes(p.cfg.MaxLineBytes)

	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		s.readLoop(dec, stdout)
	}()
	go func() {
		defer pipes.Done()
		s.logStderr(stderr)
	}()
	go func() {
		// Wait must not run until the pipes are drained.
		pipes.Wait()
		s.exitErr = cmd.Wait()
		close(s.exited)
	}()

	s.logger.Debug("worker started", zap.String("command", path))

	if err := s.handshake(ctx, ds, options, p.cfg.ReadyTimeout); err != nil {
		_ = s.Close(0)
		return nil, err
	}
	return s, nil
}

type processSession struct {
	cmd    *exec.Cmd
	pid    int
	stdin  io.WriteCloser
	out    *output.JSONLWriter
	logger *zap.Logger

	recs    chan output.Record
	quit    chan struct{}
	errMu   sync.Mutex
	readErr error

	exited  chan struct{}
	exitErr error

	mu     sync.Mutex
	seq    int64
	broken bool

	closeOnce sync.Once
	closeErr  error
}

func (s *processSession) readLoop(dec *output.Decoder, raw io.Reader) {
	for {
		rec, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.setReadErr(err)
			}
			close(s.recs)
			// Keep the pipe drained so the worker never blocks on a full
			// stdout after the session gives up on it.
			_, _ = io.Copy(io.Discard, raw)
			return
		}
		select {
		case s.recs <- rec:
		case <-s.quit:
		}
	}
}

func (s *processSession) setReadErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.readErr = err
}

func (s *processSession) getReadErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

func (s *processSession) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		s.logger.Info("worker stderr", zap.String("line", scanner.Text()))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("reading worker stderr", zap.Error(err))
	}
}

func (s *processSession) handshake(ctx context.Context, ds series.Dataset, options json.RawMessage, timeout time.Duration) error {
	if err := s.out.Write(ctx, output.TypeInit, &output.InitRecord{Dataset: ds, Options: options}); err != nil {
		return &WorkerError{Op: "init", PID: s.pid, Err: fmt.Errorf("%w: %w", ErrLaunch, err)}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rec, ok := <-s.recs:
		if !ok {
			return &WorkerError{Op: "init", PID: s.pid, Err: fmt.Errorf("%w: %w", ErrLaunch, s.exitCause())}
		}
		switch rec.Type {
		case output.TypeReady:
			var ready output.ReadyRecord
			if err := rec.Decode(output.TypeReady, &ready); err != nil {
				return &WorkerError{Op: "init", PID: s.pid, Err: fmt.Errorf("%w: %w", ErrProtocol, err)}
			}
			s.logger.Debug("worker ready", zap.Int("observations", ready.Observations), zap.Int("regressors", ready.Regressors))
			return nil
		case output.TypeError:
			return &WorkerError{Op: "init", PID: s.pid, Err: fmt.Errorf("%w: %w", ErrLaunch, remoteError(rec))}
		default:
			return &WorkerError{Op: "init", PID: s.pid, Err: fmt.Errorf("%w: unexpected %s", ErrProtocol, rec.Type)}
		}
	case <-timer.C:
		return &WorkerError{Op: "init", PID: s.pid, Err: fmt.Errorf("%w: no ready record within %s", ErrLaunch, timeout)}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fit sends one fit record and waits for the matching result.
func (s *processSession) Fit(ctx context.Context, spec modelspace.Specification) (jobregistry.ModelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken {
		return jobregistry.ModelResult{}, ErrSessionClosed
	}
	select {
	case <-s.quit:
		return jobregistry.ModelResult{}, ErrSessionClosed
	default:
	}

	s.seq++
	seq := s.seq
	if err := s.out.Write(ctx, output.TypeFit, &output.FitRecord{Seq: seq, Specification: spec}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return jobregistry.ModelResult{}, ctxErr
		}
		s.broken = true
		return jobregistry.ModelResult{}, s.crash("fit", err)
	}

	select {
	case rec, ok := <-s.recs:
		if !ok {
			s.broken = true
			return jobregistry.ModelResult{}, s.crash("fit", nil)
		}
		res, err := s.result(rec, seq)
		if err != nil {
			s.broken = true
			return jobregistry.ModelResult{}, &WorkerError{Op: "fit", PID: s.pid, Err: err}
		}
		return res, nil
	case <-ctx.Done():
		// The pending result would answer the wrong request.
		s.broken = true
		return jobregistry.ModelResult{}, ctx.Err()
	}
}

func (s *processSession) result(rec output.Record, seq int64) (jobregistry.ModelResult, error) {
	switch rec.Type {
	case output.TypeResult:
	case output.TypeError:
		return jobregistry.ModelResult{}, fmt.Errorf("%w: %w", ErrProtocol, remoteError(rec))
	default:
		return jobregistry.ModelResult{}, fmt.Errorf("%w: unexpected %s", ErrProtocol, rec.Type)
	}

	var rr output.ResultRecord
	if err := rec.Decode(output.TypeResult, &rr); err != nil {
		return jobregistry.ModelResult{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if rr.Seq != seq {
		return jobregistry.ModelResult{}, fmt.Errorf("%w: result seq %d, want %d", ErrProtocol, rr.Seq, seq)
	}

	status := jobregistry.ResultStatus(rr.Status)
	switch status {
	case jobregistry.ResultCompleted, jobregistry.ResultError, jobregistry.ResultSkipped:
	default:
		return jobregistry.ModelResult{}, fmt.Errorf("%w: unknown result status %q", ErrProtocol, rr.Status)
	}
	return jobregistry.ModelResult{Status: status, Data: rr.Data, Error: rr.Error, Reason: rr.Reason}, nil
}

// crash builds the error for a worker that stopped answering. It waits
// briefly for the exit status so the message carries it.
func (s *processSession) crash(op string, cause error) error {
	select {
	case <-s.exited:
	case <-time.After(time.Second):
	}
	if cause == nil {
		cause = s.exitCause()
	}
	return &WorkerError{Op: op, PID: s.pid, Err: fmt.Errorf("%w: %w", ErrWorkerCrashed, cause)}
}

func (s *processSession) exitCause() error {
	if err := s.getReadErr(); err != nil {
		return err
	}
	select {
	case <-s.exited:
		if s.exitErr != nil {
			return s.exitErr
		}
		return errors.New("exit status 0")
	default:
		return errors.New("stdout closed")
	}
}

// Close closes stdin, sends SIGTERM and kills the worker if it has not
// exited within grace.
func (s *processSession) Close(grace time.Duration) error {
	s.closeOnce.Do(func() {
		close(s.quit)
		_ = s.stdin.Close()

		select {
		case <-s.exited:
			return
		default:
		}

		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Debug("signal worker", zap.Error(err))
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-s.exited:
			return
		case <-timer.C:
		}

		s.logger.Warn("worker did not exit within grace, killing", zap.Duration("grace", grace))
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.closeErr = &WorkerError{Op: "kill", PID: s.pid, Err: err}
		}
		<-s.exited
	})
	return s.closeErr
}

func remoteError(rec output.Record) error {
	var er output.ErrorRecord
	if err := json.Unmarshal(rec.Data, &er); err != nil {
		return fmt.Errorf("undecodable error record: %w", err)
	}
	return fmt.Errorf("%s: %s", er.Code, er.Message)
}
