//go:build ignore

// Package main compares two `go test -bench` output files and flags
// performance regressions.
// Usage: go run scripts/bench-compare.go [options] <current.txt> <baseline.txt>
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"text/tabwriter"
)

var (
	outputJSON = flag.Bool("json", false, "Emit the report as JSON")
	threshold  = flag.Float64("threshold", 0.20, "Slowdown fraction that counts as a regression")
	improved   = flag.Float64("improved", 0.10, "Speedup fraction worth highlighting")
	showAll    = flag.Bool("all", false, "List unchanged, new, and missing benchmarks too")
	failHard   = flag.Bool("fail", true, "Exit 1 when any benchmark regressed")
)

// benchLine matches one benchmark result row:
// BenchmarkName-8   1000   1234 ns/op   128 B/op   4 allocs/op
var benchLine = regexp.MustCompile(`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

type measurement struct {
	Iterations  int     `json:"iterations"`
	NsPerOp     float64 `json:"ns_per_op"`
	BytesPerOp  int     `json:"bytes_per_op,omitempty"`
	AllocsPerOp int     `json:"allocs_per_op,omitempty"`
}

type delta struct {
	Name     string  `json:"name"`
	Current  float64 `json:"current_ns_per_op"`
	Baseline float64 `json:"baseline_ns_per_op,omitempty"`
	Percent  float64 `json:"delta_percent"`
	Verdict  string  `json:"verdict"`
}

type report struct {
	Compared    int     `json:"compared"`
	Regressed   int     `json:"regressed"`
	Improved    int     `json:"improved"`
	OnlyCurrent int     `json:"only_in_current"`
	OnlyBase    int     `json:"only_in_baseline"`
	Deltas      []delta `json:"deltas"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <current.txt> <baseline.txt>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	current, err := readBenchFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := readBenchFile(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	rep := buildReport(current, baseline)

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "encoding report: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(rep)
	}

	if *failHard && rep.Regressed > 0 {
		os.Exit(1)
	}
}

func readBenchFile(path string) (map[string]measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]measurement)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := benchLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		var meas measurement
		meas.Iterations, _ = strconv.Atoi(m[2])
		meas.NsPerOp, _ = strconv.ParseFloat(m[3], 64)
		if m[4] != "" {
			meas.BytesPerOp, _ = strconv.Atoi(m[4])
		}
		if m[5] != "" {
			meas.AllocsPerOp, _ = strconv.Atoi(m[5])
		}
		out[m[1]] = meas
	}
	return out, scanner.Err()
}

func buildReport(current, baseline map[string]measurement) *report {
	rep := &report{}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		curr := current[name]
		base, ok := baseline[name]
		if !ok {
			rep.OnlyCurrent++
			if *showAll {
				rep.Deltas = append(rep.Deltas, delta{Name: name, Current: curr.NsPerOp, Verdict: "new"})
			}
			continue
		}

		rep.Compared++
		var pct float64
		if base.NsPerOp > 0 {
			pct = (curr.NsPerOp - base.NsPerOp) / base.NsPerOp
		}

		d := delta{Name: name, Current: curr.NsPerOp, Baseline: base.NsPerOp, Percent: pct * 100}
		switch {
		case pct > *threshold:
			d.Verdict = "regressed"
			rep.Regressed++
		case pct < -*improved:
			d.Verdict = "improved"
			rep.Improved++
		default:
			d.Verdict = "ok"
		}
		if d.Verdict != "ok" || *showAll {
			rep.Deltas = append(rep.Deltas, d)
		}
	}

	for name := range baseline {
		if _, ok := current[name]; !ok {
			rep.OnlyBase++
			if *showAll {
				rep.Deltas = append(rep.Deltas, delta{Name: name, Baseline: baseline[name].NsPerOp, Verdict: "missing"})
			}
		}
	}

	return rep
}

func printReport(rep *report) {
	fmt.Printf("compared %d benchmarks: %d regressed, %d improved, %d new, %d missing\n\n",
		rep.Compared, rep.Regressed, rep.Improved, rep.OnlyCurrent, rep.OnlyBase)

	if len(rep.Deltas) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BENCHMARK\tCURRENT\tBASELINE\tDELTA\tVERDICT")
		for _, d := range rep.Deltas {
			baseCol, deltaCol := "-", "-"
			if d.Baseline > 0 {
				baseCol = fmt.Sprintf("%.0f ns", d.Baseline)
				deltaCol = fmt.Sprintf("%+.1f%%", d.Percent)
			}
			fmt.Fprintf(w, "%s\t%.0f ns\t%s\t%s\t%s\n", d.Name, d.Current, baseCol, deltaCol, d.Verdict)
		}
		w.Flush()
		fmt.Println()
	}

	if rep.Regressed > 0 {
		fmt.Printf("FAIL: %d benchmark(s) slower than baseline by more than %.0f%%\n", rep.Regressed, *threshold*100)
	} else {
		fmt.Println("PASS: no regressions above threshold")
	}
}
