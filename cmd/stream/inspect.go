package stream

import (
	"os"

	"github.com/ValentinKolb/objgraph/cmd/util"
	"github.com/ValentinKolb/objgraph/lib/dump"
	"github.com/spf13/cobra"
)

var (
	inspectCmd = &cobra.Command{
		Use:   "inspect [file]",
		Short: "Prints the record structure of a stream file",
		Long: `Prints the record structure of a stream file in the configured dump
format without decoding any object. Only the depth and byte limits
of the filter apply. Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limits, err := util.GetFilter()
			if err != nil {
				return err
			}
			s, err := util.GetSerializer()
			if err != nil {
				return err
			}
			reg, err := util.GetRegistry(false)
			if err != nil {
				return err
			}
			r, err := openStream(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			d, err := dump.Build(r, limits, dump.WithRegistry(reg))
			if err != nil {
				return err
			}
			if d.Error != "" {
				logger.Warningf("stream is incomplete: %s", d.Error)
			}
			out, err := s.Serialize(d)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
)
