package pose

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrWorkerStopped is returned by Estimate once the worker process has exited.
var ErrWorkerStopped = errors.New("pose worker stopped")

// WorkerConfig describes the keypoint model subprocess.
type WorkerConfig struct {
	Command        string        // executable, e.g. "models/run_pose_worker.sh"
	Model          string        // model path or name passed as --model
	Args           []string      // extra arguments
	RequestTimeout time.Duration // per-frame budget, default 2s
	StopTimeout    time.Duration // grace period before kill on Close, default 2s
}

type workerRequest struct {
	Seq       uint64 `msgpack:"seq"`
	FrameData []byte `msgpack:"frame_data"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	Format    string `msgpack:"format"`
}

type workerResponse struct {
	Seq       uint64     `msgpack:"seq"`
	Keypoints []Landmark `msgpack:"keypoints"`
	Error     string     `msgpack:"error"`
	TotalMS   float64    `msgpack:"total_ms"`
}

// Worker runs a keypoint model in a child process and exchanges
// length-prefixed msgpack messages with it over stdin/stdout.
type Worker struct {
	cfg WorkerConfig
	log *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu      sync.Mutex // one request on the wire at a time
	seq     uint64
	results chan workerResponse
	exited  chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool

	inferences atomic.Uint64
	totalMS    atomic.Uint64
}

// StartWorker spawns the model process and begins reading its output.
func StartWorker(ctx context.Context, cfg WorkerConfig, log *slog.Logger) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("pose worker command is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}

	args := append([]string{}, cfg.Args...)
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}

	w := &Worker{
		cfg:     cfg,
		log:     log,
		results: make(chan workerResponse, 1),
		exited:  make(chan struct{}),
	}
	w.cmd = exec.CommandContext(ctx, cfg.Command, args...)

	var err error
	if w.stdin, err = w.cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	if w.stdout, err = w.cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if w.stderr, err = w.cmd.StderrPipe(); err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := w.cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting pose worker: %w", err)
	}
	log.Info("pose worker spawned", "command", cfg.Command, "pid", w.cmd.Process.Pid)

	w.wg.Add(2)
	go w.readResults()
	go w.logStderr()
	go w.waitProcess()

	return w, nil
}

// Estimate sends one frame and waits for its keypoints.
func (w *Worker) Estimate(ctx context.Context, frame Frame) (Pose, error) {
	if w.closed.Load() || w.hasExited() {
		return Pose{}, ErrWorkerStopped
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	seq := w.seq
	payload, err := msgpack.Marshal(workerRequest{
		Seq:       seq,
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Format:    frame.Format,
	})
	if err != nil {
		return Pose{}, fmt.Errorf("encoding frame: %w", err)
	}
	if err := writeFrame(w.stdin, payload); err != nil {
		if w.hasExited() {
			return Pose{}, ErrWorkerStopped
		}
		return Pose{}, fmt.Errorf("writing frame %d: %w", seq, err)
	}

	timer := time.NewTimer(w.cfg.RequestTimeout)
	defer timer.Stop()
	for {
		select {
		case res := <-w.results:
			// Responses for requests that already timed out are stale.
			if res.Seq != seq {
				w.log.Debug("discarding stale pose result", "seq", res.Seq, "want", seq)
				continue
			}
			if res.Error != "" {
				return Pose{}, fmt.Errorf("pose worker: %s", res.Error)
			}
			w.inferences.Add(1)
			w.totalMS.Add(uint64(res.TotalMS))
			return Pose{Landmarks: res.Keypoints}, nil
		case <-timer.C:
			return Pose{}, fmt.Errorf("pose worker: frame %d timed out after %s", seq, w.cfg.RequestTimeout)
		case <-w.exited:
			return Pose{}, ErrWorkerStopped
		case <-ctx.Done():
			return Pose{}, ctx.Err()
		}
	}
}

func (w *Worker) hasExited() bool {
	select {
	case <-w.exited:
		return true
	default:
		return false
	}
}

// AvgLatency returns the mean inference time reported by the worker.
func (w *Worker) AvgLatency() time.Duration {
	n := w.inferences.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(w.totalMS.Load()/n) * time.Millisecond
}

// Close stops the worker, killing it if it does not exit in time.
func (w *Worker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.stdin.Close()

	select {
	case <-w.exited:
	case <-time.After(w.cfg.StopTimeout):
		w.log.Warn("pose worker did not exit, killing", "pid", w.cmd.Process.Pid)
		if err := w.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("killing pose worker: %w", err)
		}
		<-w.exited
	}
	return nil
}

func (w *Worker) readResults() {
	defer w.wg.Done()
	for {
		data, err := readFrame(w.stdout)
		if err != nil {
			if !errors.Is(err, io.EOF) && !w.closed.Load() {
				w.log.Error("reading pose worker output", "error", err)
			}
			return
		}
		var res workerResponse
		if err := msgpack.Unmarshal(data, &res); err != nil {
			w.log.Error("decoding pose worker output", "error", err, "bytes", len(data))
			continue
		}
		// Keep only the newest result if nobody is waiting.
		select {
		case w.results <- res:
		default:
			select {
			case <-w.results:
			default:
			}
			w.results <- res
		}
	}
}

func (w *Worker) logStderr() {
	defer w.wg.Done()
	scanner := bufio.NewScanner(w.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			w.log.Error("pose worker", "line", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			w.log.Warn("pose worker", "line", line)
		default:
			w.log.Debug("pose worker", "line", line)
		}
	}
}

// waitProcess reaps the child once both output readers have hit EOF, since
// Wait closes the pipes they read from.
func (w *Worker) waitProcess() {
	w.wg.Wait()
	err := w.cmd.Wait()
	if err != nil && !w.closed.Load() {
		w.log.Error("pose worker exited unexpectedly", "error", err)
	}
	close(w.exited)
}

// writeFrame writes a 4-byte big-endian length prefix followed by payload.
func writeFrame(wr io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := wr.Write(prefix[:]); err != nil {
		return err
	}
	_, err := wr.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint32(prefix[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
