package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facetrack/internal/tracker"
	"github.com/andresmejia3/facetrack/internal/types"
	"github.com/andresmejia3/facetrack/internal/utils"
	"github.com/spf13/cobra"
)

var detectOpts Options

var detectCmd = &cobra.Command{
	Use:   "detect <image_path>",
	Short: "Detect face landmarks in a single JPEG image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := detectOpts
		applyEnv(cmd.Flags(), &opts)
		return runDetect(cmd.Context(), args[0], opts, os.Stdout)
	},
}

func init() {
	addDetectorFlags(detectCmd.Flags(), &detectOpts)
	detectCmd.Flags().BoolVar(&detectOpts.JSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(ctx context.Context, imagePath string, opts Options, stdout io.Writer) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	if opts.MaxFaces < 1 {
		err := fmt.Errorf("must be >= 1, got %d", opts.MaxFaces)
		utils.ShowError("Invalid max-faces", err, nil)
		return err
	}

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(imgData))
	if err != nil {
		utils.ShowError("Input is not a JPEG image", err, nil)
		return err
	}

	settings := trackSettings{}
	if settings.workerTimeout, err = parsePositiveDuration("worker-timeout", opts.WorkerTimeout); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}
	if settings.startupTimeout, err = parsePositiveDuration("startup-timeout", opts.StartupTimeout); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting landmark engine...")
	detector, err := newProvisioner(settings).Provision(ctx, types.DetectorOptions{
		ModelAssetPath:   opts.ModelPath,
		RuntimeAssetBase: opts.RuntimePath,
		NumFaces:         opts.MaxFaces,
		RunningMode:      "IMAGE",
	})
	if err != nil {
		utils.ShowError("Failed to start landmark worker", err, nil)
		return err
	}
	defer detector.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing image...")
	frame := types.Frame{Seq: 1, Width: cfg.Width, Height: cfg.Height, Data: imgData}
	faces, err := detector.DetectForVideo(frame, 0)
	if err != nil {
		utils.ShowError("Landmark detection failed", err, workerLogs(detector))
		return err
	}

	if opts.JSON {
		landmarks := tracker.ToLandmarks(tracker.FirstFace(faces))
		return json.NewEncoder(stdout).Encode(types.FrameResult{
			Landmarks: landmarks,
			Box:       tracker.BoundingBox(landmarks),
		})
	}
	return printFaces(stdout, faces, cfg.Width, cfg.Height)
}

// printFaces writes one table row per detected face.
func printFaces(w io.Writer, faces []types.Face, width, height int) error {
	if len(faces) == 0 {
		_, err := fmt.Fprintln(w, "❌ No faces detected in the provided image.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "FACE\tLANDMARKS\tBOX (px)")
	fmt.Fprintln(tw, "----\t---------\t--------")
	for i, f := range faces {
		box := tracker.BoundingBox(tracker.ToLandmarks(f))
		if box == nil {
			fmt.Fprintf(tw, "%d\t0\t-\n", i)
			continue
		}
		fmt.Fprintf(tw, "%d\t%d\t%.0f,%.0f %.0fx%.0f\n", i, len(f),
			box.X*float64(width), box.Y*float64(height),
			box.W*float64(width), box.H*float64(height))
	}
	return tw.Flush()
}
