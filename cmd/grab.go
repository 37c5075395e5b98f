package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/smazurov/videocap/internal/capture"
	"github.com/smazurov/videocap/internal/config"
	"github.com/smazurov/videocap/internal/frame"
	"github.com/smazurov/videocap/internal/logging"
	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

type grabOptions struct {
	force        bool
	forceDevices []string
	width        uint32
	height       uint32
	pixelFormat  string
	buffers      uint32
	timeout      string
	count        int
	outDir       string
	png          bool
}

// CreateGrabCmd creates the grab command.
func CreateGrabCmd() *cobra.Command {
	var opts grabOptions

	cmd := &cobra.Command{
		Use:   "grab <device>...",
		Short: "Capture frames from one or more devices",
		Long: `Opens a streaming session on every device and polls them in turn, printing the size of each ` +
			`frame next to the size the format calls for. Frames are written to --out when given.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runGrab(ctx, cmd.OutOrStdout(), capture.OpenV4L2, args, opts); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				stop()
				os.Exit(1)
			}
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.force, "force", false, "Force a format on every device instead of keeping the current one")
	f.StringSliceVar(&opts.forceDevices, "force-device", nil, "Force a format on these devices only")
	f.Uint32Var(&opts.width, "width", 0, "Forced width (default 640)")
	f.Uint32Var(&opts.height, "height", 0, "Forced height (default 480)")
	f.StringVar(&opts.pixelFormat, "pixel-format", "", "Forced pixel format as a FourCC (default YUYV)")
	f.Uint32Var(&opts.buffers, "buffers", 0, "Buffers to request (default 4)")
	f.StringVar(&opts.timeout, "timeout", "", "Wait per frame (default 2s)")
	f.IntVarP(&opts.count, "count", "n", 10, "Poll rounds; 0 runs until interrupted")
	f.StringVarP(&opts.outDir, "out", "o", "", "Directory to write frames to")
	f.BoolVar(&opts.png, "png", false, "Write frames as PNG instead of raw payloads")
	return cmd
}

type grabTarget struct {
	path    string
	name    string
	session capture.Session
}

func runGrab(ctx context.Context, w io.Writer, open capture.Opener, devices []string, opts grabOptions) error {
	logger := logging.GetLogger("grab")

	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", opts.outDir, err)
		}
	}

	var targets []*grabTarget
	defer func() {
		for _, t := range targets {
			t.session.Close()
		}
	}()

	for _, dev := range devices {
		path, err := v4l2.ResolvePath(dev)
		if err != nil {
			return err
		}
		spec := config.DeviceSpec{
			Path:        path,
			ForceFormat: opts.force || slices.Contains(opts.forceDevices, dev) || slices.Contains(opts.forceDevices, path),
			Buffers:     opts.buffers,
			Timeout:     opts.timeout,
		}
		if spec.ForceFormat {
			spec.Width, spec.Height, spec.PixelFormat = opts.width, opts.height, opts.pixelFormat
		}
		sessionOpts, err := spec.SessionOptions()
		if err != nil {
			return fmt.Errorf("%s: %w", dev, err)
		}

		s, err := open(path, append(sessionOpts, v4l2.WithLogger(logger))...)
		if err != nil {
			return err
		}
		targets = append(targets, &grabTarget{path: path, name: spec.DisplayName(), session: s})
		fmt.Fprintf(w, "%s: %s, %d buffers\n", path, s.Format(), s.BufferCount())
	}

	for round := 0; opts.count == 0 || round < opts.count; round++ {
		for _, t := range targets {
			if ctx.Err() != nil {
				return nil
			}
			if err := grabOne(w, t, opts); err != nil {
				if v4l2.IsTimeout(err) {
					fmt.Fprintf(w, "%s: timeout\n", t.path)
					continue
				}
				return err
			}
		}
	}
	return nil
}

func grabOne(w io.Writer, t *grabTarget, opts grabOptions) error {
	format := t.session.Format()
	var writeErr error

	err := t.session.PollFrame(func(f v4l2.Frame) {
		fmt.Fprintf(w, "%s: %d %d\n", t.path, len(f.Data), format.SizeImage)
		if opts.outDir != "" {
			writeErr = writeFrame(opts.outDir, t.name, format, f, opts.png)
		}
	})
	if err != nil {
		return err
	}
	return writeErr
}

func writeFrame(dir, name string, format v4l2.Format, f v4l2.Frame, asPNG bool) error {
	ext := "raw"
	if asPNG {
		ext = "png"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%06d.%s", name, f.Sequence, ext))

	if !asPNG {
		return os.WriteFile(path, f.Data, 0o644)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := frame.EncodePNG(file, format, f.Data); err != nil {
		file.Close()
		os.Remove(path)
		if errors.Is(err, frame.ErrShortFrame) {
			// Partial frames are skipped.
			return nil
		}
		return err
	}
	return file.Close()
}
