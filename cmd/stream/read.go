package stream

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/objgraph/cmd/util"
	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/spf13/cobra"
)

var (
	readCmd = &cobra.Command{
		Use:   "read [file]",
		Short: "Decodes a stream file and prints its roots",
		Long: `Decodes a stream file with the demo registry and the configured filter
and prints every root. Use - to read from stdin. Dropped fields of
older or newer type versions are reported on stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := util.GetFilter()
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

			dec := codec.NewDecoder(r, reg, filter, codec.WithDiagnostics(func(d codec.Diagnostic) {
				fmt.Fprintln(os.Stderr, d.String())
			}))

			roots := 0
			for {
				v, err := dec.DecodeValue()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				fmt.Printf("root %d: %s\n", roots, describe(v))
				roots++
			}
			fmt.Printf("%d roots, %d bytes\n", roots, dec.Offset())
			return nil
		},
	}
)
