package stream

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/objgraph/cmd/util"
	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/ValentinKolb/objgraph/lib/demo"
	"github.com/ValentinKolb/objgraph/lib/streamio"
	"github.com/spf13/cobra"
)

var (
	writeCmd = &cobra.Command{
		Use:   "write [file] [scenario]",
		Short: "Writes a demo object graph to a stream file",
		Long: fmt.Sprintf(`Writes a demo object graph to a stream file.

Scenarios: %s (default cycle)`, strings.Join(demo.ScenarioNames(), ", ")),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "cycle"
			if len(args) == 2 {
				name = args[1]
			}
			scenario, err := demo.LookupScenario(name)
			if err != nil {
				return err
			}
			return writeScenario(args[0], scenario)
		},
	}
)

func writeScenario(path string, scenario demo.Scenario) error {
	reg, err := util.GetRegistry(scenario.Legacy)
	if err != nil {
		return err
	}
	compression, err := util.GetCompression()
	if err != nil {
		return err
	}

	w, err := streamio.Create(path, compression)
	if err != nil {
		return err
	}
	enc := codec.NewEncoder(w, reg)
	if err := scenario.Write(enc); err != nil {
		_ = w.Close()
		return fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	logger.Infof("wrote scenario %s to %s (%s, %d handles)", scenario.Name, path, compression, enc.Handles())
	fmt.Printf("wrote %s: %s\n", scenario.Name, scenario.Description)
	return nil
}
