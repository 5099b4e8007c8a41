// Package app runs analyses in the background and records their outcome.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ayusman/shuttlespeed/internal/analysis"
	"github.com/ayusman/shuttlespeed/internal/capture"
	"github.com/ayusman/shuttlespeed/internal/config"
	"github.com/ayusman/shuttlespeed/internal/detector"
	"github.com/ayusman/shuttlespeed/internal/store"
	"github.com/google/uuid"
)

// ErrUnknownAnalysis is returned for an ID this App never started.
var ErrUnknownAnalysis = errors.New("unknown analysis")

// Config holds configuration options for the application.
type Config struct {
	// Store receives run metadata and frame records. Optional.
	Store *store.Store

	// ModelPath is the ONNX model. Without it the subprocess detector is used.
	ModelPath string

	// Tuning overrides the default thresholds. Optional.
	Tuning *config.TuningConfig

	// OpenSource opens a clip. Defaults to capture.OpenVideo.
	OpenSource func(path string) (capture.Source, error)

	// NewDetector creates the detector for one run. Defaults to DefaultDetector.
	NewDetector func(cfg detector.Config) (detector.Detector, error)
}

// Request describes one analysis to start.
type Request struct {
	Source         string  `json:"source"`
	MetersPerPixel float64 `json:"meters_per_pixel"`
}

// Status is a point-in-time view of a run.
type Status struct {
	ID       string       `json:"id"`
	Done     int          `json:"done"`
	Total    int          `json:"total"`
	Fraction float64      `json:"fraction"`
	Status   store.Status `json:"status"`
}

type job struct {
	id       string
	cancel   context.CancelFunc
	progress *analysis.Progress
	done     chan struct{}

	mu     sync.Mutex
	status store.Status
	result *analysis.Result
	err    error
}

func (j *job) snapshot() Status {
	j.mu.Lock()
	status := j.status
	j.mu.Unlock()

	done, total := j.progress.Snapshot()
	return Status{
		ID:       j.id,
		Done:     done,
		Total:    total,
		Fraction: j.progress.Fraction(),
		Status:   status,
	}
}

// App is the main application that schedules analyses and persists results.
type App struct {
	config Config
	mu     sync.RWMutex
	jobs   map[string]*job
	wg     sync.WaitGroup
}

// New creates a new App instance with the given configuration.
func New(cfg Config) *App {
	if cfg.Tuning == nil {
		cfg.Tuning = config.EmptyTuningConfig()
	}
	if cfg.OpenSource == nil {
		cfg.OpenSource = capture.OpenVideo
	}
	if cfg.NewDetector == nil {
		cfg.NewDetector = DefaultDetector
	}

	return &App{
		config: cfg,
		jobs:   make(map[string]*job),
	}
}

// DefaultDetector uses the ONNX model when one is configured and the Python
// service otherwise.
func DefaultDetector(cfg detector.Config) (detector.Detector, error) {
	if cfg.ModelPath != "" {
		d, err := detector.NewONNXDetector(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	d, err := detector.NewSubprocessDetector(cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Start validates the request, opens the clip and the detector, and runs the
// analysis in the background. It returns the analysis ID.
func (a *App) Start(req Request) (string, error) {
	if !(req.MetersPerPixel > 0) {
		return "", fmt.Errorf("%w: got %v", analysis.ErrInvalidCalibration, req.MetersPerPixel)
	}

	src, err := a.config.OpenSource(req.Source)
	if err != nil {
		return "", err
	}

	info := src.Info()
	if !info.Valid() {
		src.Close()
		return "", fmt.Errorf("%s: %w", req.Source, analysis.ErrInvalidVideoInfo)
	}

	det, err := a.config.NewDetector(detector.ConfigFromTuning(a.config.Tuning, a.config.ModelPath))
	if err != nil {
		src.Close()
		return "", fmt.Errorf("failed to create detector: %w", err)
	}

	row := &store.Analysis{
		ID:             uuid.New().String(),
		Source:         req.Source,
		Status:         store.StatusRunning,
		FPS:            info.FPS,
		Width:          info.Width,
		Height:         info.Height,
		MetersPerPixel: req.MetersPerPixel,
	}
	if a.config.Store != nil {
		if err := a.config.Store.Analyses().Create(row); err != nil {
			src.Close()
			det.Close()
			return "", fmt.Errorf("failed to record analysis: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:       row.ID,
		cancel:   cancel,
		progress: analysis.NewProgress(nil),
		done:     make(chan struct{}),
		status:   store.StatusRunning,
	}

	a.mu.Lock()
	a.jobs[j.id] = j
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(ctx, j, row, src, det)

	log.Printf("Analysis %s started for %s", j.id, req.Source)
	return j.id, nil
}

func (a *App) run(ctx context.Context, j *job, row *store.Analysis, src capture.Source, det detector.Detector) {
	defer a.wg.Done()
	defer close(j.done)
	defer j.cancel()

	res, err := analysis.Run(ctx, src, det, row.MetersPerPixel, j.progress,
		analysis.WithOptions(analysis.OptionsFromTuning(a.config.Tuning)))

	if cerr := src.Close(); cerr != nil {
		log.Printf("Error closing source %s: %v", row.Source, cerr)
	}
	if cerr := det.Close(); cerr != nil {
		log.Printf("Error closing detector: %v", cerr)
	}

	status := store.StatusCompleted
	switch {
	case err != nil:
		status = store.StatusFailed
		log.Printf("Analysis %s failed: %v", j.id, err)
	case res.Cancelled:
		status = store.StatusCancelled
		log.Printf("Analysis %s cancelled after %d frames", j.id, len(res.Records))
	default:
		log.Printf("Analysis %s completed: %d frames", j.id, len(res.Records))
	}

	if perr := a.persist(row, status, res, err); perr != nil {
		log.Printf("Failed to save analysis %s: %v", j.id, perr)
	}

	j.mu.Lock()
	j.status = status
	j.result = res
	j.err = err
	j.mu.Unlock()
}

func (a *App) persist(row *store.Analysis, status store.Status, res *analysis.Result, runErr error) error {
	if a.config.Store == nil {
		return nil
	}

	row.Status = status
	if runErr != nil {
		row.Error = runErr.Error()
	}
	if res != nil {
		if err := a.config.Store.Frames().Save(row.ID, res.Records); err != nil {
			return err
		}
		row.FrameCount = len(res.Records)
		if peak, ok := res.PeakSpeedKmh(); ok {
			row.PeakSpeedKmh = &peak
		}
	}

	return a.config.Store.Analyses().Update(row)
}

func (a *App) job(id string) (*job, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	j, ok := a.jobs[id]
	if !ok {
		return nil, ErrUnknownAnalysis
	}
	return j, nil
}

// Progress returns the current status of a run.
func (a *App) Progress(id string) (Status, error) {
	j, err := a.job(id)
	if err != nil {
		return Status{}, err
	}
	return j.snapshot(), nil
}

// Done returns a channel closed when the run finishes.
func (a *App) Done(id string) (<-chan struct{}, error) {
	j, err := a.job(id)
	if err != nil {
		return nil, err
	}
	return j.done, nil
}

// Cancel requests that a run stop at the next frame boundary. Cancelling a
// finished run is a no-op.
func (a *App) Cancel(id string) error {
	j, err := a.job(id)
	if err != nil {
		return err
	}
	j.cancel()
	return nil
}

// Wait blocks until the run finishes and returns its outcome.
func (a *App) Wait(id string) (*analysis.Result, error) {
	j, err := a.job(id)
	if err != nil {
		return nil, err
	}
	<-j.done

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Forget cancels a run if needed and drops it from memory.
func (a *App) Forget(id string) {
	a.mu.Lock()
	j, ok := a.jobs[id]
	delete(a.jobs, id)
	a.mu.Unlock()

	if ok {
		j.cancel()
		<-j.done
	}
}

// Stop cancels every running analysis and waits for them to be saved.
func (a *App) Stop() {
	a.mu.RLock()
	for _, j := range a.jobs {
		j.cancel()
	}
	a.mu.RUnlock()

	a.wg.Wait()
	log.Println("All analyses stopped")
}
