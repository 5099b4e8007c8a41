package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ServiceScript is the Python inference service run by SubprocessDetector.
const ServiceScript = "shuttle_detector.py"

// idleShutdown is how long the service may sit unused before it is stopped.
const idleShutdown = 30 * time.Second

// SubprocessDetector implements Detector using an external Python inference
// service. Frames are letterboxed on the Go side, sent as length-prefixed
// JPEG over stdin, and answered with one JSON line of anchor rows.
type SubprocessDetector struct {
	config     Config
	scriptPath string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	mu         sync.Mutex
	started    bool
	idleTimer  *time.Timer
}

// NewSubprocessDetector creates a new subprocess detector.
// The Python process is started lazily on first detection.
func NewSubprocessDetector(config Config) (*SubprocessDetector, error) {
	scriptPath := findServiceScript()
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", ServiceScript)
	}

	return &SubprocessDetector{
		config:     config,
		scriptPath: scriptPath,
	}, nil
}

type serviceResponse struct {
	Anchors [][]float32 `json:"anchors"`
	Error   string      `json:"error,omitempty"`
}

// Detect sends the letterboxed frame to the service and returns its anchors.
// If ctx is cancelled mid-request the service is stopped, since its pipe
// can no longer be trusted to be in sync.
func (d *SubprocessDetector) Detect(ctx context.Context, frame *gocv.Mat) (*Tensor, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("subprocess detector: empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	input, _, err := LetterboxImage(*frame, d.InputSize())
	if err != nil {
		return nil, err
	}
	defer input.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, input)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	type result struct {
		resp serviceResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := d.exchange(data)
		done <- result{resp: resp, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		if d.cmd != nil && d.cmd.Process != nil {
			d.cmd.Process.Kill()
		}
		<-done
		d.shutdown()
		return nil, ctx.Err()
	}

	if res.err != nil {
		return nil, res.err
	}
	if res.resp.Error != "" {
		return nil, fmt.Errorf("detector service: %s", res.resp.Error)
	}

	d.resetIdleTimer()
	return NewTensor(res.resp.Anchors), nil
}

// exchange writes one frame and reads one response line.
func (d *SubprocessDetector) exchange(data []byte) (serviceResponse, error) {
	var resp serviceResponse

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return resp, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return resp, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return resp, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}

// InputSize returns the configured square input size.
func (d *SubprocessDetector) InputSize() image.Point {
	return d.config.inputPoint()
}

// Close shuts down the Python process.
func (d *SubprocessDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *SubprocessDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	args := []string{d.scriptPath, "--input-size", fmt.Sprint(d.InputSize().X)}
	if d.config.ModelPath != "" {
		args = append(args, "--model", d.config.ModelPath)
	}
	d.cmd = exec.Command(pythonPath, args...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start detector service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	return nil
}

func (d *SubprocessDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *SubprocessDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ServiceScript),
		filepath.Join("..", "scripts", ServiceScript),
		filepath.Join(execDir, "scripts", ServiceScript),
		filepath.Join(os.Getenv("HOME"), ".shuttlespeed", "scripts", ServiceScript),
	}
	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".shuttlespeed/venv/bin/python"),
	}
	return firstExisting(candidates)
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
