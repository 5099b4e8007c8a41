package server

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ayusman/shuttlespeed/internal/analysis"
	"github.com/ayusman/shuttlespeed/internal/capture"
	"github.com/ayusman/shuttlespeed/internal/store"
	"github.com/ayusman/shuttlespeed/internal/units"
	"gocv.io/x/gocv"
)

var (
	boxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	trackColor = color.RGBA{R: 255, G: 64, B: 0, A: 0}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

var unitLabels = map[string]string{
	units.MPS:  "m/s",
	units.MPH:  "mph",
	units.KMPH: "km/h",
	units.KPH:  "km/h",
}

// StreamHandler replays a stored analysis as MJPEG with the track drawn on
// each frame.
type StreamHandler struct {
	store *store.Store
	open  func(path string) (capture.Source, error)
}

// NewStreamHandler creates a new StreamHandler reading clips with open.
func NewStreamHandler(s *store.Store, open func(path string) (capture.Source, error)) *StreamHandler {
	return &StreamHandler{store: s, open: open}
}

// ServeHTTP streams GET /api/analyses/{id}/stream at the clip frame rate.
// Speeds are labelled in km/h unless ?units= asks otherwise.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := analysisID(r.URL.Path, "stream")
	if id == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.KMPH
	}
	if !units.IsValid(unit) {
		http.Error(w, "Invalid units, must be one of: "+units.GetValidUnitsString(), http.StatusBadRequest)
		return
	}

	a, err := h.store.Analyses().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Analysis not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get analysis", http.StatusInternalServerError)
		return
	}

	records, err := h.store.Frames().GetByAnalysisID(id)
	if err != nil {
		http.Error(w, "Failed to get frames", http.StatusInternalServerError)
		return
	}
	byIndex := make(map[int]analysis.FrameRecord, len(records))
	for _, rec := range records {
		byIndex[rec.Index] = rec
	}

	src, err := h.open(a.Source)
	if err != nil {
		http.Error(w, "Failed to open source", http.StatusUnprocessableEntity)
		return
	}
	defer src.Close()

	info := src.Info()
	interval := 66 * time.Millisecond
	if info.FPS > 0 {
		interval = time.Duration(float64(time.Second) / info.FPS)
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		frame, err := src.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Printf("stream %s: %v", id, err)
			return
		}

		if rec, ok := byIndex[frame.Index]; ok {
			annotate(frame.Mat, rec, unit)
		}

		// Encode as JPEG
		buf, err := gocv.IMEncode(".jpg", *frame.Mat)
		frame.Close()
		if err != nil {
			continue
		}

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
		w.Write(buf.GetBytes())
		fmt.Fprintf(w, "\r\n")
		buf.Close()

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		time.Sleep(interval)
	}
}

// annotate draws the accepted box, the filter position and the speed label.
func annotate(mat *gocv.Mat, rec analysis.FrameRecord, unit string) {
	w, h := float64(mat.Cols()), float64(mat.Rows())

	if rec.Box != nil {
		r := image.Rect(
			int(rec.Box.X*w), int(rec.Box.Y*h),
			int((rec.Box.X+rec.Box.W)*w), int((rec.Box.Y+rec.Box.H)*h),
		)
		gocv.Rectangle(mat, r, boxColor, 2)
	}

	if rec.Point != nil {
		gocv.Circle(mat, image.Pt(int(rec.Point.X), int(rec.Point.Y)), 4, trackColor, -1)
	}

	if rec.SpeedKmh != nil {
		label := fmt.Sprintf("%.1f %s", units.FromKMPH(*rec.SpeedKmh, unit), unitLabels[unit])
		gocv.PutText(mat, label, image.Pt(10, 30), gocv.FontHersheySimplex, 1.0, textColor, 2)
	}
}
