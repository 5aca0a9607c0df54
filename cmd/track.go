package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/andresmejia3/facetrack/internal/camera"
	"github.com/andresmejia3/facetrack/internal/logging"
	"github.com/andresmejia3/facetrack/internal/render"
	"github.com/andresmejia3/facetrack/internal/tracker"
	"github.com/andresmejia3/facetrack/internal/types"
	"github.com/andresmejia3/facetrack/internal/utils"
	"github.com/andresmejia3/facetrack/internal/worker"
	jsoniter "github.com/json-iterator/go"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var trackOpts Options

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track face landmarks from a camera or video file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := trackOpts
		applyEnv(cmd.Flags(), &opts)
		return runTrack(cmd.Context(), opts, os.Stdout)
	},
}

func init() {
	addDetectorFlags(trackCmd.Flags(), &trackOpts)
	trackCmd.Flags().StringVarP(&trackOpts.Device, "device", "D", "", "Capture device passed to ffmpeg (e.g. /dev/video0)")
	trackCmd.Flags().StringVarP(&trackOpts.InputPath, "input", "i", "", "Video file to track instead of a live device")
	trackCmd.Flags().StringVarP(&trackOpts.InputFormat, "input-format", "f", defaultInputFormat(), "ffmpeg demuxer for --device")
	trackCmd.Flags().IntVar(&trackOpts.FrameRate, "frame-rate", 0, "Capture rate requested from --device, 0 keeps the device default")
	trackCmd.Flags().BoolVar(&trackOpts.Loop, "loop", false, "Replay the --input file forever")
	trackCmd.Flags().Float64VarP(&trackOpts.RefreshRate, "refresh-rate", "r", tracker.DefaultRefreshRate, "Frame loop rate in Hz")
	trackCmd.Flags().StringVar(&trackOpts.DrawPath, "draw", "", "Save the landmark overlay of the last frame as PNG on exit")
	trackCmd.Flags().BoolVar(&trackOpts.JSON, "json", false, "Write one JSON result per frame to stdout")
	trackCmd.Flags().IntVar(&trackOpts.MaxFailures, "max-failures", tracker.DefaultMaxFailures, "Stop after this many failed frames in a row")
	trackCmd.MarkFlagsMutuallyExclusive("device", "input")
	rootCmd.AddCommand(trackCmd)
}

// addDetectorFlags registers the flags shared by every command that starts a landmark worker.
func addDetectorFlags(fs *pflag.FlagSet, opts *Options) {
	fs.StringVarP(&opts.ModelPath, "model", "m", tracker.DefaultModelAssetPath, "Face landmarker model path or URL")
	fs.StringVar(&opts.RuntimePath, "runtime", tracker.DefaultRuntimeAssetBase, "Directory holding the landmark worker runtime")
	fs.IntVarP(&opts.MaxFaces, "max-faces", "n", tracker.DefaultMaxFaces, "Maximum faces the model looks for")
	fs.StringVar(&opts.WorkerTimeout, "worker-timeout", "10s", "Maximum time to wait for one frame from the worker")
	fs.StringVar(&opts.StartupTimeout, "startup-timeout", "60s", "Maximum time to wait for the model to load")
}

// applyEnv fills options from FACETRACK_* variables when the flag was not given.
func applyEnv(fs *pflag.FlagSet, opts *Options) {
	if !fs.Changed("model") {
		opts.ModelPath = envOr("FACETRACK_MODEL", opts.ModelPath)
	}
	if !fs.Changed("runtime") {
		opts.RuntimePath = envOr("FACETRACK_RUNTIME", opts.RuntimePath)
	}
	if fs.Lookup("device") != nil && !fs.Changed("device") && !fs.Changed("input") {
		opts.Device = envOr("FACETRACK_DEVICE", opts.Device)
	}
}

func defaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

// trackSettings holds parsed, validated flag values.
type trackSettings struct {
	source         utils.CaptureSource
	workerTimeout  time.Duration
	startupTimeout time.Duration
}

// validateTrackFlags ensures all CLI arguments are valid before starting heavy processes.
func validateTrackFlags(opts Options) (trackSettings, error) {
	var s trackSettings

	switch {
	case opts.InputPath != "":
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			if os.IsNotExist(err) {
				return s, fmt.Errorf("input file does not exist: %w", err)
			}
			return s, fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return s, fmt.Errorf("input path %s is a directory, expected a video file", opts.InputPath)
		}
		s.source = utils.CaptureSource{Input: opts.InputPath, Loop: opts.Loop}
	case opts.Device != "":
		if opts.InputFormat == "" {
			return s, errors.New("--input-format is required with --device")
		}
		if opts.FrameRate < 0 {
			return s, fmt.Errorf("invalid frame-rate: must be >= 0, got %d", opts.FrameRate)
		}
		s.source = utils.CaptureSource{Format: opts.InputFormat, Input: opts.Device, FrameRate: opts.FrameRate}
	default:
		return s, errors.New("one of --device or --input is required")
	}

	if opts.MaxFaces < 1 {
		return s, fmt.Errorf("invalid max-faces: must be >= 1, got %d", opts.MaxFaces)
	}
	if opts.RefreshRate <= 0 {
		return s, fmt.Errorf("invalid refresh-rate: must be > 0, got %v", opts.RefreshRate)
	}
	if opts.MaxFailures < 1 {
		return s, fmt.Errorf("invalid max-failures: must be >= 1, got %d", opts.MaxFailures)
	}
	if opts.DrawPath != "" {
		if info, err := os.Stat(filepath.Dir(opts.DrawPath)); err != nil || !info.IsDir() {
			return s, fmt.Errorf("draw output directory does not exist: %s", filepath.Dir(opts.DrawPath))
		}
	}

	var err error
	if s.workerTimeout, err = parsePositiveDuration("worker-timeout", opts.WorkerTimeout); err != nil {
		return s, err
	}
	if s.startupTimeout, err = parsePositiveDuration("startup-timeout", opts.StartupTimeout); err != nil {
		return s, err
	}
	return s, nil
}

func parsePositiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format (use '10s', '500ms'): %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", name, value)
	}
	return d, nil
}

// isWorkerGone reports errors after which the landmark worker cannot recover.
func isWorkerGone(err error) bool {
	return errors.Is(err, worker.ErrWorkerExited) ||
		errors.Is(err, worker.ErrClosed) ||
		errors.Is(err, worker.ErrTimeout)
}

// workerLogs returns the stderr capture of a landmark worker, nil for other detectors.
func workerLogs(detector tracker.Detector) utils.LogSource {
	if w, ok := detector.(*worker.PythonLandmarker); ok && w.Cmd != nil {
		return w.Cmd
	}
	return nil
}

// failureLogs picks the child process whose stderr explains err: the
// landmark worker for detection failures, ffmpeg otherwise.
func failureLogs(err error, detector tracker.Detector, stream camera.Stream) utils.LogSource {
	if errors.Is(err, tracker.ErrDetection) {
		return workerLogs(detector)
	}
	if fs, ok := stream.(*camera.FFmpegStream); ok && fs != nil {
		return fs
	}
	return nil
}

// sessionLogger returns the shared logger, or a silent one before PersistentPreRunE ran.
func sessionLogger() logrus.FieldLogger {
	if Log == nil {
		return logging.Discard()
	}
	return Log
}

// newProvisioner adapts the worker provisioner to the tracker.
func newProvisioner(s trackSettings) tracker.Provisioner {
	p := &worker.Provisioner{ReadTimeout: s.workerTimeout, StartupTimeout: s.startupTimeout}
	return tracker.ProvisionFunc(func(ctx context.Context, opts types.DetectorOptions) (tracker.Detector, error) {
		w, err := p.Provision(ctx, opts)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}

// resultWriter encodes frame results as newline delimited JSON.
type resultWriter struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *jsoniter.Encoder
}

func newResultWriter(w io.Writer) *resultWriter {
	buf := bufio.NewWriter(w)
	return &resultWriter{buf: buf, enc: json.NewEncoder(buf)}
}

func (r *resultWriter) Write(res types.FrameResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(res); err != nil {
		return err
	}
	return r.buf.Flush()
}

// runTrack orchestrates a tracking session: capture, worker, frame loop and output.
func runTrack(ctx context.Context, opts Options, stdout io.Writer) error {
	settings, err := validateTrackFlags(opts)
	if err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}

	video := camera.NewVideo()
	defer video.Close()

	var canvas *render.Canvas
	var surface render.Surface
	if opts.DrawPath != "" {
		canvas = render.NewCanvas(0, 0)
		surface = canvas
	}

	var out *resultWriter
	if opts.JSON {
		out = newResultWriter(stdout)
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("👁️  Tracking"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	failed := make(chan error, 1)
	scheduler := tracker.NewRefreshScheduler(opts.RefreshRate)
	defer scheduler.Close()

	fmt.Fprintln(os.Stderr, "🚀 Starting landmark engine...")
	session, err := tracker.New(ctx, tracker.Config{
		Video:                  video,
		Canvas:                 surface,
		Camera:                 &camera.FFmpegCamera{Source: settings.source},
		Provisioner:            newProvisioner(settings),
		ModelAssetPath:         opts.ModelPath,
		RuntimeAssetBase:       opts.RuntimePath,
		MaxFaces:               opts.MaxFaces,
		Scheduler:              scheduler,
		Logger:                 sessionLogger(),
		MaxConsecutiveFailures: opts.MaxFailures,
		IsFatal:                isWorkerGone,
		OnResults: func(res types.FrameResult) {
			bar.Add(1)
			if out == nil {
				return
			}
			if err := out.Write(res); err != nil {
				select {
				case failed <- fmt.Errorf("write results: %w", err):
				default:
				}
			}
		},
		OnError: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})
	if err != nil {
		utils.ShowError("Failed to start tracking session", err, nil)
		return err
	}
	defer session.Close()

	w, h := video.VideoSize()
	fmt.Fprintf(os.Stderr, "📼 Session %s: %dx%d\n", session.ID()[:8], w, h)

	start := time.Now()
	session.Start()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-failed:
	case <-video.Ended():
		runErr = video.Err()
	}
	session.Stop()
	// The overlay must not be saved halfway through a frame
	session.Wait()
	bar.Finish()

	if canvas != nil {
		if err := canvas.SavePNG(opts.DrawPath); err != nil {
			utils.ShowError("Failed to save overlay", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🖼️  Overlay saved to %s\n", opts.DrawPath)
	}

	stats := session.Stats()
	var dropped uint64
	if fs, ok := video.Stream().(*camera.FFmpegStream); ok {
		dropped = fs.Dropped()
	}
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "⏱️  Elapsed:          %s\n", utils.FmtElapsed(time.Since(start)))
	fmt.Fprintf(os.Stderr, "🎞️  Frames Tracked:   %d\n", stats.Frames)
	fmt.Fprintf(os.Stderr, "⚠️  Frames Skipped:   %d\n", stats.Skipped)
	fmt.Fprintf(os.Stderr, "🗑️  Frames Dropped:   %d\n", dropped)
	fmt.Fprintf(os.Stderr, "📈 Last FPS:         %.1f\n", stats.FPS)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	if runErr != nil {
		utils.ShowError("Tracking stopped", runErr, failureLogs(runErr, session.Advanced().Detector, video.Stream()))
		return runErr
	}
	return nil
}
