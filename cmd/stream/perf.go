package stream

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ValentinKolb/objgraph/cmd/util"
	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/ValentinKolb/objgraph/lib/demo"
	objutil "github.com/ValentinKolb/objgraph/lib/util"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the codec",
		Long:    "Measures encode and decode latency of the demo graphs and the size of the streams they produce.",
		Args:    cobra.NoArgs,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfIterations = 1000
	perfRingSizes  = []int{10, 100, 1000}
)

func init() {
	key := "iterations"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("How many times each graph is encoded and decoded"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(_ *cobra.Command, _ []string) error {
	perfIterations = viper.GetInt("iterations")
	if perfIterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", perfIterations)
	}
	return nil
}

// perfResult holds the measurements of one workload
type perfResult struct {
	name   string
	bytes  int
	encode gometrics.Timer
	decode gometrics.Timer
	// spread of the decode latencies in ns
	decodeStats objutil.Stats
}

// workload is a graph measured by the perf command
type workload struct {
	name string
	root codec.Serializable
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for the codec")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetCodecConfig().String())
	fmt.Printf("Iterations: %d\n", perfIterations)
	fmt.Println()

	reg, err := util.GetRegistry(false)
	if err != nil {
		return err
	}
	filter, err := util.GetFilter()
	if err != nil {
		return err
	}

	workloads := []workload{{name: "team", root: demo.Team()}}
	for _, n := range perfRingSizes {
		workloads = append(workloads, workload{name: "ring-" + strconv.Itoa(n), root: demo.Ring(n)})
	}

	sizes := objutil.NewSizeHistogram()
	results := make([]perfResult, 0, len(workloads))
	for _, w := range workloads {
		res, err := measure(reg, filter, w, sizes)
		if err != nil {
			return fmt.Errorf("%s: %w", w.name, err)
		}
		results = append(results, res)
		printPerfResult(res)
	}

	fmt.Println()
	fmt.Printf("Stream sizes: avg %d bytes, median ~%d bytes, p99 ~%d bytes\n",
		sizes.AverageSize(), sizes.Median(), sizes.Percentile(99))
	printSizeDistribution(sizes)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// measure encodes and decodes one workload perfIterations times
func measure(reg *codec.Registry, filter codec.FilterPolicy, w workload, sizes *objutil.SizeHistogram) (perfResult, error) {
	res := perfResult{
		name:   w.name,
		encode: gometrics.NewTimer(),
		decode: gometrics.NewTimer(),
	}

	decodeNs := make([]float64, 0, perfIterations)
	for i := 0; i < perfIterations; i++ {
		start := time.Now()
		data, err := codec.Marshal(reg, w.root)
		if err != nil {
			return res, err
		}
		res.encode.UpdateSince(start)
		res.bytes = len(data)
		sizes.AddSample(len(data))

		start = time.Now()
		if _, err := codec.Unmarshal(reg, data, filter); err != nil {
			return res, err
		}
		res.decode.UpdateSince(start)
		decodeNs = append(decodeNs, float64(time.Since(start).Nanoseconds()))
	}
	res.decodeStats = objutil.NewStats(decodeNs)
	return res, nil
}

// printPerfResult prints the result of a workload in a formatted way
func printPerfResult(res perfResult) {
	fmt.Printf("%-12s%8d bytes  encode %10s/op (p99 %10s)  decode %10s/op (p99 %10s)\n",
		res.name, res.bytes,
		time.Duration(res.encode.Mean()), time.Duration(res.encode.Percentile(0.99)),
		time.Duration(res.decode.Mean()), time.Duration(res.decode.Percentile(0.99)),
	)
	fmt.Printf("%-12sdecode min %s, max %s, stddev %s, min/max %.2f\n", "",
		time.Duration(res.decodeStats.Min), time.Duration(res.decodeStats.Max),
		time.Duration(res.decodeStats.StdDeviation), res.decodeStats.MinMaxRatio,
	)
}

// printSizeDistribution prints the non-empty buckets of the stream size histogram
func printSizeDistribution(sizes *objutil.SizeHistogram) {
	bounds, shares := sizes.Distribution()
	for i, share := range shares {
		if share == 0 {
			continue
		}
		label := "larger"
		if i < len(bounds) {
			label = fmt.Sprintf("<= %d bytes", bounds[i])
		}
		fmt.Printf("  %-18s%6.2f%%\n", label, share)
	}
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"Workload", "Bytes", "Iterations",
		"EncodeMeanNs", "EncodeP99Ns", "DecodeMeanNs", "DecodeP99Ns",
		"DecodeMinNs", "DecodeMaxNs", "DecodeStdDevNs",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, res := range results {
		row := []string{
			res.name,
			strconv.Itoa(res.bytes),
			strconv.Itoa(perfIterations),
			fmt.Sprintf("%.0f", res.encode.Mean()),
			fmt.Sprintf("%.0f", res.encode.Percentile(0.99)),
			fmt.Sprintf("%.0f", res.decode.Mean()),
			fmt.Sprintf("%.0f", res.decode.Percentile(0.99)),
			fmt.Sprintf("%.0f", res.decodeStats.Min),
			fmt.Sprintf("%.0f", res.decodeStats.Max),
			fmt.Sprintf("%.0f", res.decodeStats.StdDeviation),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %v", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
