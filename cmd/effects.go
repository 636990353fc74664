package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/compositor"
	"github.com/smazurov/hudrender/internal/mp4"
	"github.com/smazurov/hudrender/internal/pipeline"
	"github.com/spf13/cobra"
)

// CreateEffectsCmd creates the effects command.
func CreateEffectsCmd() *cobra.Command {
	var printJSON bool

	cmd := &cobra.Command{
		Use:   "effects",
		Short: "List post effects and their defaults",
		Long: `Lists the GPU post-effect chain in the order effects are applied, with the ` +
			`parameters used when an effect is enabled by name. Effects only run on the gpu compositor.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			effects := compositor.DescribeEffects()
			if printJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(effects)
			}
			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tEFFECT\tDEFAULTS")
			for _, e := range effects {
				fmt.Fprintf(w, "%d\t%s\t%s\n", e.Order, e.Name, e.Defaults)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&printJSON, "json", false, "Print JSON")
	return cmd
}

// knownCodecs are the codec ids reported by the codecs command.
var knownCodecs = []string{mp4.CodecAVC, mp4.CodecHEVC, mp4.CodecVP8, mp4.CodecVP9, mp4.CodecAV1, mp4.CodecRaw}

// CreateCodecsCmd creates the codecs command.
func CreateCodecsCmd() *cobra.Command {
	var printJSON bool

	cmd := &cobra.Command{
		Use:   "codecs",
		Short: "List codec backends",
		Long:  `Lists the usable codec backends, hardware first, with the codecs each can decode and encode.`,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			backends := pipeline.DefaultRegistry().Describe(knownCodecs)
			if printJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(backends)
			}
			return writeCodecs(c, backends)
		},
	}
	cmd.Flags().BoolVar(&printJSON, "json", false, "Print JSON")
	return cmd
}

func writeCodecs(c *cobra.Command, backends []codec.Codecs) error {
	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tHARDWARE\tDECODE\tENCODE")
	for _, b := range backends {
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", b.Backend, b.Hardware, list(b.Decode), list(b.Encode))
	}
	return w.Flush()
}

func list(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}
