package store

import (
	"errors"
	"testing"

	"github.com/ayusman/shuttlespeed/internal/analysis"
	"github.com/ayusman/shuttlespeed/internal/detector"
	"github.com/google/go-cmp/cmp"
)

func sampleRecords() []analysis.FrameRecord {
	speed := 187.5
	zero := 0.0
	return []analysis.FrameRecord{
		{Index: 0, Timestamp: 0},
		{
			Index:     1,
			Timestamp: 1.0 / 240,
			Box:       &detector.Rect{X: 0.41, Y: 0.22, W: 0.01, H: 0.015},
			Point:     &detector.Point{X: 797.5, Y: 245.1},
		},
		{
			Index:     2,
			Timestamp: 2.0 / 240,
			Box:       &detector.Rect{X: 0.43, Y: 0.21, W: 0.01, H: 0.015},
			SpeedKmh:  &speed,
			Point:     &detector.Point{X: 830.2, Y: 236.9},
		},
		{
			Index:     3,
			Timestamp: 3.0 / 240,
			SpeedKmh:  &zero,
			Point:     &detector.Point{X: 862.9, Y: 228.7},
		},
	}
}

func TestFrameRepository_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	a := createAnalysis(t, s)
	want := sampleRecords()

	if err := s.Frames().Save(a.ID, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Frames().GetByAnalysisID(a.ID)
	if err != nil {
		t.Fatalf("GetByAnalysisID() error = %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	updated, _ := s.Analyses().GetByID(a.ID)
	if updated.FrameCount != len(want) {
		t.Errorf("FrameCount = %d, want %d", updated.FrameCount, len(want))
	}
}

func TestFrameRepository_SaveReplaces(t *testing.T) {
	s := newTestStore(t)
	a := createAnalysis(t, s)

	if err := s.Frames().Save(a.ID, sampleRecords()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Frames().Save(a.ID, sampleRecords()[:1]); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := s.Frames().GetByAnalysisID(a.ID)
	if err != nil {
		t.Fatalf("GetByAnalysisID() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 record after replace, got %d", len(got))
	}
}

func TestFrameRepository_SaveUnknownAnalysis(t *testing.T) {
	s := newTestStore(t)

	err := s.Frames().Save("missing", sampleRecords())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFrameRepository_CascadeDelete(t *testing.T) {
	s := newTestStore(t)
	a := createAnalysis(t, s)

	if err := s.Frames().Save(a.ID, sampleRecords()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Analyses().Delete(a.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM frame_records`).Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 0 {
		t.Errorf("expected frame records to be deleted with analysis, %d remain", count)
	}
}

func TestFrameRepository_GetEmpty(t *testing.T) {
	s := newTestStore(t)
	a := createAnalysis(t, s)

	got, err := s.Frames().GetByAnalysisID(a.ID)
	if err != nil {
		t.Fatalf("GetByAnalysisID() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil records, got %v", got)
	}
}
