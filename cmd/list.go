package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/smazurov/videocap/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateListCmd creates the list command.
func CreateListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List video capture devices",
		Long:  `Enumerates V4L2 video capture nodes with their stable IDs, which can be used in place of /dev/videoN in the configuration.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			devices, err := v4l2.FindDevices()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error finding devices: %v\n", err)
				os.Exit(1)
			}
			if err := printDevices(cmd.OutOrStdout(), devices, asJSON); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	return cmd
}

type listedDevice struct {
	Path         string   `json:"path"`
	Name         string   `json:"name"`
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
}

func printDevices(w io.Writer, devices []v4l2.DeviceInfo, asJSON bool) error {
	if asJSON {
		out := make([]listedDevice, 0, len(devices))
		for _, d := range devices {
			out = append(out, listedDevice{
				Path:         d.DevicePath,
				Name:         d.DeviceName,
				ID:           d.DeviceID,
				Capabilities: v4l2.CapabilityNames(d.Caps),
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(devices) == 0 {
		fmt.Fprintln(w, "No V4L2 capture devices found.")
		return nil
	}

	fmt.Fprintf(w, "Found %d V4L2 capture devices:\n", len(devices))
	for i, d := range devices {
		fmt.Fprintf(w, "%d. Device Path: %s\n", i+1, d.DevicePath)
		fmt.Fprintf(w, "   Device Name: %s\n", d.DeviceName)
		fmt.Fprintf(w, "   Device ID: %s\n", d.DeviceID)
		fmt.Fprintf(w, "   Capabilities: %s\n", strings.Join(v4l2.CapabilityNames(d.Caps), ", "))
		fmt.Fprintln(w)
	}
	return nil
}
