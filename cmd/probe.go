package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/smazurov/hudrender/internal/mp4"
	"github.com/smazurov/hudrender/internal/pipeline"
	"github.com/spf13/cobra"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var printJSON bool

	cmd := &cobra.Command{
		Use:   "probe <file.mp4>",
		Short: "Describe an MP4 file",
		Long:  `Prints the container layout and the video track the renderer would decode, and whether a decoder is available for it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := mp4.Probe(f)
			if err != nil {
				return fmt.Errorf("probe %s: %w", args[0], err)
			}
			decodable := pipeline.DefaultRegistry().CanDecode(info.Video.Codec)

			if printJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					*mp4.Info
					Decodable bool `json:"decodable"`
				}{info, decodable})
			}
			return writeProbe(c.OutOrStdout(), args[0], info, decodable)
		},
	}
	cmd.Flags().BoolVar(&printJSON, "json", false, "Print JSON")
	return cmd
}

func writeProbe(out io.Writer, name string, info *mp4.Info, decodable bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "file\t%s\n", name)
	fmt.Fprintf(w, "brand\t%s\n", info.MajorBrand)
	fmt.Fprintf(w, "fast start\t%v\n", info.FastStart)
	fmt.Fprintf(w, "duration\t%s\n", info.Duration)
	v := info.Video
	fmt.Fprintf(w, "video\ttrack %d, %s %dx%d, %.3f fps\n", v.TrackID, v.Codec, v.Width, v.Height, v.FrameRate)
	fmt.Fprintf(w, "samples\t%d (%d key)\n", v.Samples, v.KeyFrames)
	fmt.Fprintf(w, "extradata\t%d bytes\n", v.ExtraData)
	fmt.Fprintf(w, "decodable\t%v\n", decodable)
	for _, t := range info.Tracks {
		fmt.Fprintf(w, "track %d\t%s, %d samples, %s\n", t.ID, t.Codec, t.Samples, t.Duration)
	}
	return w.Flush()
}
