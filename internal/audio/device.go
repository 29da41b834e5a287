package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"babaphone/internal/core/domain"
)

// InputDevice is a microphone. ReadFrame fills buf completely or fails.
// Close must unblock a pending ReadFrame.
type InputDevice interface {
	Open(ctx context.Context) error
	ReadFrame(buf Frame) error
	Close() error
}

// OutputDevice is a speaker.
type OutputDevice interface {
	Open(ctx context.Context) error
	WriteFrame(f Frame) error
	Close() error
}

// ExecInput reads raw s16le mono PCM from a recorder process such as
// arecord on stdout.
type ExecInput struct {
	command []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte
}

func NewExecInput(command []string) *ExecInput {
	return &ExecInput{command: command}
}

func (d *ExecInput) Open(ctx context.Context) error {
	if len(d.command) == 0 {
		return fmt.Errorf("%w: no capture command configured", domain.ErrCaptureUnavailable)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := exec.CommandContext(ctx, d.command[0], d.command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", domain.ErrCaptureUnavailable, d.command[0], err)
	}
	d.cmd = cmd
	d.stdout = stdout
	return nil
}

func (d *ExecInput) ReadFrame(buf Frame) error {
	d.mu.Lock()
	stdout := d.stdout
	d.mu.Unlock()
	if stdout == nil {
		return fmt.Errorf("%w: device not open", domain.ErrCaptureUnavailable)
	}

	n := len(buf) * BytesPerSample
	if cap(d.buf) < n {
		d.buf = make([]byte, n)
	}
	raw := d.buf[:n]
	if _, err := io.ReadFull(stdout, raw); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
	}
	for i := range buf {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*BytesPerSample:]))
	}
	return nil
}

func (d *ExecInput) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return nil
	}
	d.stdout.Close()
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	err := d.cmd.Wait()
	d.cmd, d.stdout = nil, nil

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed on purpose
		return nil
	}
	return err
}

// ExecOutput writes raw s16le mono PCM to a player process such as aplay.
type ExecOutput struct {
	command []string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	buf   []byte
}

func NewExecOutput(command []string) *ExecOutput {
	return &ExecOutput{command: command}
}

func (d *ExecOutput) Open(ctx context.Context) error {
	if len(d.command) == 0 {
		return errors.New("no playback command configured")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := exec.CommandContext(ctx, d.command[0], d.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", d.command[0], err)
	}
	d.cmd = cmd
	d.stdin = stdin
	return nil
}

func (d *ExecOutput) WriteFrame(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stdin == nil {
		return errors.New("playback device not open")
	}
	d.buf = EncodePCM(d.buf[:0], f)
	_, err := d.stdin.Write(d.buf)
	return err
}

// Close lets the player finish what it has buffered.
func (d *ExecOutput) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return nil
	}
	d.stdin.Close()
	err := d.cmd.Wait()
	d.cmd, d.stdin = nil, nil
	return err
}
