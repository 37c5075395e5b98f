package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <device>...",
		Short: "Show device capabilities and formats",
		Long:  `Opens each device without streaming and prints its driver, capabilities, current format and supported pixel formats.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			failed := false
			for _, arg := range args {
				path, err := v4l2.ResolvePath(arg)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%v\n", err)
					failed = true
					continue
				}
				report, err := v4l2.Probe(path)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%v\n", err)
					failed = true
					continue
				}
				printReport(cmd.OutOrStdout(), report)
			}
			if failed {
				os.Exit(1)
			}
		},
	}
}

func printReport(w io.Writer, r *v4l2.DeviceReport) {
	c := r.Capability
	fmt.Fprintf(w, "%s\n", r.Path)
	fmt.Fprintf(w, "  Driver:       %s %s\n", c.Driver, c.VersionString())
	fmt.Fprintf(w, "  Card:         %s\n", c.Card)
	fmt.Fprintf(w, "  Bus:          %s\n", c.BusInfo)
	fmt.Fprintf(w, "  Capabilities: %s\n", strings.Join(v4l2.CapabilityNames(c.Effective()), ", "))

	if !c.CanCapture() {
		fmt.Fprintln(w, "  Not a video capture device")
		return
	}
	fmt.Fprintf(w, "  Format:       %s\n", r.Format)
	fmt.Fprintln(w, "  Pixel formats:")
	for _, f := range r.Formats {
		var flags []string
		if f.Compressed {
			flags = append(flags, "compressed")
		}
		if f.Emulated {
			flags = append(flags, "emulated")
		}
		line := fmt.Sprintf("    %s  %s", v4l2.FourCC(f.PixelFormat), f.FormatName)
		if len(flags) > 0 {
			line += " (" + strings.Join(flags, ", ") + ")"
		}
		fmt.Fprintln(w, line)
	}
}
