// Command authgate-benchcmp compares two `go test -bench` outputs and fails
// when a tracked benchmark regresses past the threshold.
//
//	go test -run '^$' -bench 'Check|Refresh' -count 5 . > new.txt
//	authgate-benchcmp -baseline old.txt -candidate new.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

const (
	defaultThreshold  = 0.30
	defaultBenchmarks = "BenchmarkCheckPublic,BenchmarkCheckBearer,BenchmarkCheckSession,BenchmarkRefresh"
	defaultUnits      = "ns/op,allocs/op"
)

// samples maps benchmark name to unit to the values of every run.
type samples map[string]map[string][]float64

type comparison struct {
	benchmark string
	unit      string
	baseline  float64
	candidate float64
	delta     float64
}

func main() {
	baselinePath := flag.String("baseline", "", "path to baseline benchmark output")
	candidatePath := flag.String("candidate", "", "path to candidate benchmark output")
	threshold := flag.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	benchList := flag.String("bench", defaultBenchmarks, "comma-separated benchmarks to track")
	unitList := flag.String("units", defaultUnits, "comma-separated units to compare")
	flag.Parse()

	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if *threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}

	tracked := splitList(*benchList)
	units := splitList(*unitList)

	baseline, err := readSamples(*baselinePath, tracked)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := readSamples(*candidatePath, tracked)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read candidate: %v\n", err)
		os.Exit(1)
	}

	rows, problems := compare(baseline, candidate, tracked, units)
	printTable(os.Stdout, rows)

	for _, row := range rows {
		if row.delta > *threshold {
			problems = append(problems, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)",
				row.benchmark, row.unit, row.delta*100, *threshold*100))
		}
	}
	if len(problems) > 0 {
		fmt.Fprintln(os.Stderr, "benchmark comparison failed:")
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
		os.Exit(1)
	}
}

func compare(baseline, candidate samples, tracked, units []string) ([]comparison, []string) {
	var rows []comparison
	var problems []string
	for _, bench := range tracked {
		for _, unit := range units {
			base := baseline[bench][unit]
			cand := candidate[bench][unit]
			if len(base) == 0 || len(cand) == 0 {
				problems = append(problems, fmt.Sprintf("missing samples for %s %s", bench, unit))
				continue
			}
			bm, cm := median(base), median(cand)
			if bm <= 0 {
				// allocs/op of zero cannot regress by ratio; only flag growth.
				if cm > 0 {
					problems = append(problems, fmt.Sprintf("%s %s grew from 0 to %.0f", bench, unit, cm))
				}
				continue
			}
			rows = append(rows, comparison{
				benchmark: bench,
				unit:      unit,
				baseline:  bm,
				candidate: cm,
				delta:     (cm - bm) / bm,
			})
		}
	}
	return rows, problems
}

func printTable(w io.Writer, rows []comparison) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "benchmark\tunit\tbaseline\tcandidate\tdelta")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%+0.2f%%\n", r.benchmark, r.unit, r.baseline, r.candidate, r.delta*100)
	}
	_ = tw.Flush()
}

func readSamples(path string, tracked []string) (samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseSamples(f, tracked)
}

func parseSamples(r io.Reader, tracked []string) (samples, error) {
	want := make(map[string]struct{}, len(tracked))
	for _, name := range tracked {
		want[name] = struct{}{}
	}

	out := samples{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := trimProcs(fields[0])
		if _, ok := want[name]; !ok {
			continue
		}
		if out[name] == nil {
			out[name] = map[string][]float64{}
		}
		// fields[1] is the iteration count; value/unit pairs follow.
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			out[name][fields[i+1]] = append(out[name][fields[i+1]], v)
		}
	}
	return out, scanner.Err()
}

// trimProcs strips the -GOMAXPROCS suffix the test runner appends.
func trimProcs(name string) string {
	idx := strings.LastIndexByte(name, '-')
	if idx <= 0 {
		return name
	}
	if _, err := strconv.Atoi(name[idx+1:]); err != nil {
		return name
	}
	return name[:idx]
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
