package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ayusman/shuttlespeed/internal/app"
	"github.com/ayusman/shuttlespeed/internal/config"
	"github.com/ayusman/shuttlespeed/internal/server"
	"github.com/ayusman/shuttlespeed/internal/store"
	"github.com/ayusman/shuttlespeed/internal/units"
	"github.com/joho/godotenv"
)

const usage = `Usage: shuttlespeed <command> [flags]

Commands:
  analyze   estimate shuttlecock speed for one clip and print the records as JSON
  serve     start the HTTP server
`

func main() {
	// A missing .env is fine; the environment and flags still apply
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "analyze":
		err = runAnalyze(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	video := fs.String("video", "", "path to the clip")
	model := fs.String("model", envOr("SHUTTLESPEED_MODEL", ""), "ONNX model path (uses the Python service when empty)")
	scale := fs.Float64("scale", envFloat("SHUTTLESPEED_SCALE", 0), "court calibration in meters per pixel")
	configPath := fs.String("config", "", "tuning JSON file")
	dbPath := fs.String("db", os.Getenv("SHUTTLESPEED_DB"), "also record the run in this database")
	out := fs.String("out", "", "write JSON here instead of stdout")
	unit := fs.String("units", envOr("SHUTTLESPEED_UNITS", units.KMPH), "units for the reported peak speed ("+units.GetValidUnitsString()+")")
	fs.Parse(args)

	if *video == "" {
		return fmt.Errorf("analyze: -video is required")
	}
	if !units.IsValid(*unit) {
		return fmt.Errorf("analyze: invalid -units %q, must be one of: %s", *unit, units.GetValidUnitsString())
	}

	tuning, err := loadTuning(*configPath)
	if err != nil {
		return err
	}

	cfg := app.Config{ModelPath: *model, Tuning: tuning}
	if *dbPath != "" {
		st, err := store.New(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer st.Close()
		cfg.Store = st
	}

	application := app.New(cfg)
	defer application.Stop()

	id, err := application.Start(app.Request{Source: *video, MetersPerPixel: *scale})
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	done, err := application.Done(id)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-done:
			break wait
		case <-sig:
			log.Println("Interrupted, stopping analysis...")
			application.Cancel(id)
		case <-ticker.C:
			if st, err := application.Progress(id); err == nil {
				fmt.Fprintf(os.Stderr, "\r%d/%d frames (%.0f%%)", st.Done, st.Total, st.Fraction*100)
			}
		}
	}
	fmt.Fprintln(os.Stderr)

	res, err := application.Wait(id)
	if err != nil {
		return err
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	if peak, ok := res.PeakSpeedKmh(); ok {
		log.Printf("Peak speed: %.1f %s over %d frames", units.FromKMPH(peak, *unit), *unit, len(res.Records))
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", envOr("SHUTTLESPEED_ADDR", ":8080"), "listen address")
	dbPath := fs.String("db", os.Getenv("SHUTTLESPEED_DB"), "database path (default ~/.shuttlespeed/shuttlespeed.db)")
	model := fs.String("model", envOr("SHUTTLESPEED_MODEL", ""), "ONNX model path (uses the Python service when empty)")
	configPath := fs.String("config", "", "tuning JSON file")
	fs.Parse(args)

	fmt.Println("Shuttlespeed - Shuttlecock Speed Estimation")

	if *dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}

		dbDir := filepath.Join(homeDir, ".shuttlespeed")
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		*dbPath = filepath.Join(dbDir, "shuttlespeed.db")
	}

	st, err := store.New(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	tuning, err := loadTuning(*configPath)
	if err != nil {
		return err
	}

	application := app.New(app.Config{
		Store:     st,
		ModelPath: *model,
		Tuning:    tuning,
	})

	// Find web directory
	webDir := findWebDir()
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		App:       application,
	})

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s\n", *addr)
		errCh <- srv.ListenAndServe(*addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		application.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-sig:
		fmt.Println("\nShutting down...")
		application.Stop()
		return nil
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path != "" {
		return config.LoadTuningConfig(path)
	}
	return config.LoadDefaultConfig()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return f
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.shuttlespeed/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".shuttlespeed", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
