package box

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/goTNT/cmd/util"
	"github.com/ValentinKolb/goTNT/common"
	"github.com/ValentinKolb/goTNT/iproto"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for IPROTO servers",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfKeySpread  = 100
	perfSpaceName  = "perf_test"
	perfSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. insert,select)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different primary keys to use for the tests"))
	key = "space"
	perfTestCmd.Flags().String(key, "perf_test", util.WrapString("Space used for the insert/select/delete benchmarks"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfKeySpread = viper.GetInt("keys")
	perfSpaceName = viper.GetString("space")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfResult couples the throughput numbers of one benchmark with its
// latency distribution.
type perfResult struct {
	bench     testing.BenchmarkResult
	latencies gometrics.Histogram
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for IPROTO servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	ctx := context.Background()
	results := make(map[string]perfResult)

	// Measure one operation and feed its latency into the histogram
	measure := func(h gometrics.Histogram, op func() error, name string) {
		start := time.Now()
		if err := op(); err != nil {
			log.Printf("(%s) - error: %v\n", name, err)
		}
		h.Update(time.Since(start).Nanoseconds())
	}

	runBench := func(name string, op func() error) {
		h := gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015))
		bench := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					measure(h, op, name)
				}
			})
		})

		results[name] = perfResult{bench: bench, latencies: h}
		printResult(name, results[name])
	}

	runBench("ping", func() error {
		return boxClient.Ping(ctx)
	})

	runBench("call", func() error {
		_, err := boxClient.Call(ctx, "box.session.user", nil)
		return err
	})

	// The space benchmarks need a writable space on the server
	space, err := boxClient.Space(ctx, perfSpaceName)
	if err != nil {
		fmt.Printf("\nskipping space benchmarks, space %q not available: %v\n", perfSpaceName, err)
	} else {
		var counter atomic.Int64
		nextKey := func() int64 {
			return counter.Add(1) % int64(perfKeySpread)
		}

		runBench("replace", func() error {
			k := nextKey()
			_, err := space.Replace(ctx, []interface{}{k, "test"})
			return err
		})

		runBench("select", func() error {
			_, err := space.Select(ctx, "", iproto.IterEq, []interface{}{nextKey()}, 1, 0)
			return err
		})

		runBench("delete", func() error {
			_, err := space.Delete(ctx, "", []interface{}{nextKey()})
			return err
		})
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.bench.NsPerOp() == 0 {
		fmt.Printf("%-12sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	ps := result.latencies.Percentiles([]float64{0.5, 0.95, 0.99})

	fmt.Printf("%-12s%.0f ops/sec\tp50=%s p95=%s p99=%s\n",
		test, opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "OpsPerSec", "P50Ns", "P95Ns", "P99Ns", "Skipped",
		"Endpoints", "Transport", "Threads", "Keys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp, opsPerSec float64
		var skipped string

		if result.bench.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		ps := result.latencies.Percentiles([]float64{0.5, 0.95, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			fmt.Sprintf("%.0f", opsPerSec),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			skipped,
			strings.Join(config.Endpoints, ";"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
