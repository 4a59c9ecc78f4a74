package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Executor handles all ffmpeg operations with progress streaming
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New creates a new ffmpeg executor using the binaries found in PATH
func New(logger zerolog.Logger, threads int) (*Executor, error) {
	return NewWithPaths(logger, "ffmpeg", "ffprobe", threads)
}

// NewWithPaths creates an executor for explicit binary names or paths
func NewWithPaths(logger zerolog.Logger, ffmpegBin, ffprobeBin string, threads int) (*Executor, error) {
	ffmpegPath, err := exec.LookPath(ffmpegBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath(ffprobeBin)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     threads,
	}, nil
}

// Process is a running ffmpeg child with optional stdin/stdout pipes
type Process struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	ctx    context.Context
	wg     sync.WaitGroup
	stderr *tailBuffer
	once   sync.Once
	err    error
}

// Wait waits for the process and its output streaming to finish. It is safe
// to call more than once.
func (p *Process) Wait() error {
	p.once.Do(func() {
		p.wg.Wait()
		if err := p.cmd.Wait(); err != nil {
			if ctxErr := p.ctx.Err(); ctxErr != nil {
				p.err = ctxErr
				return
			}
			p.err = fmt.Errorf("ffmpeg execution failed: %w: %s", err, p.stderr.String())
		}
	})
	return p.err
}

// Kill terminates the process and reaps it
func (p *Process) Kill() {
	if p.Stdin != nil {
		_ = p.Stdin.Close()
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	if p.Stdout != nil {
		_, _ = io.Copy(io.Discard, p.Stdout)
	}
	_ = p.Wait()
}

// Start launches ffmpeg without waiting for it. stderr is always consumed:
// progress blocks go to opts.ProgressHandler, every line to opts.LogHandler.
func (e *Executor) Start(ctx context.Context, opts RunOptions) (*Process, error) {
	if len(opts.Args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}

	// Build args with threads BEFORE other arguments
	baseArgs := []string{"-y", "-hide_banner", "-loglevel", "info"}
	if !opts.Stdin {
		baseArgs = append(baseArgs, "-nostdin")
	}

	if e.threads > 0 {
		baseArgs = append(baseArgs, "-threads", fmt.Sprintf("%d", e.threads))
	}

	if opts.ProgressHandler != nil {
		baseArgs = append(baseArgs, "-progress", "pipe:2")
	}
	args := append(baseArgs, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	p := &Process{cmd: cmd, ctx: ctx, stderr: newTailBuffer(4096)}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if opts.Stdin {
		if p.Stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	}
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else if p.Stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	logHandler := opts.LogHandler
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		e.streamOutput(stderr, opts.ProgressHandler, func(line string) {
			p.stderr.WriteLine(line)
			if logHandler != nil {
				logHandler(line)
			}
		})
	}()

	return p, nil
}

// Run executes ffmpeg with the given arguments and streams progress
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	var stdout bytes.Buffer
	if opts.Stdout == nil {
		opts.Stdout = &stdout
	}
	p, err := e.Start(ctx, opts)
	if err != nil {
		return err
	}
	if err := p.Wait(); err != nil {
		return err
	}

	if opts.LogHandler != nil && stdout.Len() > 0 {
		scanner := bufio.NewScanner(&stdout)
		for scanner.Scan() {
			opts.LogHandler(scanner.Text())
		}
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// HasEncoder reports whether the ffmpeg build lists the named encoder
func (e *Executor) HasEncoder(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, "-hide_banner", "-encoders")
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("list encoders: %w", err)
	}
	return parseEncoders(string(out))[name], nil
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output
func parseEncoders(output string) map[string]bool {
	encoders := make(map[string]bool)
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			encoders[fields[1]] = true
		}
	}
	return encoders
}

// streamOutput parses ffmpeg output and calls handlers
func (e *Executor) streamOutput(r io.Reader, progressHandler func(*Progress), logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	progressData := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()

		if logHandler != nil {
			logHandler(line)
		}

		// Parse progress lines
		if strings.HasPrefix(line, "frame=") {
			fmt.Sscanf(line, "frame=%d", &progressData.Frame)
		} else if strings.HasPrefix(line, "fps=") {
			fmt.Sscanf(line, "fps=%f", &progressData.FPS)
		} else if strings.HasPrefix(line, "bitrate=") {
			progressData.Bitrate = value(line)
		} else if strings.HasPrefix(line, "out_time=") {
			progressData.Time = value(line)
		} else if strings.HasPrefix(line, "speed=") {
			progressData.Speed = value(line)
		} else if strings.HasPrefix(line, "progress=") {
			// End of progress block
			if progressHandler != nil && progressData.Frame > 0 {
				progressHandler(progressData)
			}
			progressData = &Progress{}
		}
	}
}

func value(line string) string {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// tailBuffer keeps the last n bytes of stderr for error messages
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
