package stream

import (
	"fmt"

	"github.com/ValentinKolb/objgraph/cmd/util"
	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/ValentinKolb/objgraph/lib/demo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	copyCmd = &cobra.Command{
		Use:   "copy",
		Short: "Deep copies demo graphs and checks that their shape survives",
		Long: `Deep copies a ring of nodes and a department with its employees
through the codec and checks that cycles, shared references and
canonical instances survive while no copied object is an original.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := util.GetRegistry(false)
			if err != nil {
				return err
			}
			checks, err := copyChecks(reg, viper.GetInt("nodes"))
			if err != nil {
				return err
			}

			failed := 0
			for _, c := range checks {
				status := "ok"
				if !c.ok {
					status = "FAILED"
					failed++
				}
				fmt.Printf("%-8s%s\n", status, c.name)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(checks))
			}
			return nil
		},
	}
)

func init() {
	key := "nodes"
	copyCmd.Flags().Int(key, 5, util.WrapString("Number of nodes in the copied ring"))
}

type check struct {
	name string
	ok   bool
}

// copyChecks copies the demo graphs and reports what survived
func copyChecks(reg *codec.Registry, nodes int) ([]check, error) {
	if nodes < 1 {
		return nil, fmt.Errorf("nodes must be positive, got %d", nodes)
	}
	var checks []check

	// ring
	ring := demo.Ring(nodes)
	ringCopy, err := codec.DeepCopy(reg, ring)
	if err != nil {
		return nil, fmt.Errorf("ring: %w", err)
	}
	cur, distinct := ringCopy, true
	for i := 0; i < nodes; i++ {
		distinct = distinct && cur != ring && cur.Value == int64(i+1)
		cur = cur.Next
	}
	checks = append(checks,
		check{fmt.Sprintf("ring of %d nodes is closed", nodes), cur == ringCopy},
		check{"ring nodes are copies with the original values", distinct},
	)

	// department
	team := demo.Team()
	teamCopy, err := codec.DeepCopy(reg, team)
	if err != nil {
		return nil, fmt.Errorf("team: %w", err)
	}
	alan, grace := teamCopy.Manager, teamCopy.Manager.Manager
	dept := teamCopy.Department
	checks = append(checks,
		check{"employees share one department", alan.Department == dept && grace.Department == dept},
		check{"department head points back into the team", dept.Head == grace},
		check{"department is a copy", dept != team.Department},
	)

	// canonical settings
	settings, err := codec.DeepCopy(reg, demo.Instance())
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	checks = append(checks, check{"settings stay canonical", settings == demo.Instance()})

	// period
	p, err := demo.NewPeriod(0, 3600)
	if err != nil {
		return nil, err
	}
	period, err := codec.DeepCopy(reg, p)
	if err != nil {
		return nil, fmt.Errorf("period: %w", err)
	}
	checks = append(checks, check{"period is rebuilt from its proxy", period != p && period.End() == p.End()})

	return checks, nil
}
