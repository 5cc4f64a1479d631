// Package stats produces an offline summary report from a crawl result file.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rendercrawl/rendercrawl/internal/crawler"
)

// Report holds the aggregate figures computed from a result file.
type Report struct {
	Total    int
	ByStatus map[crawler.Status]int
	Initial  ByteStats
	Rendered ByteStats
	Ratio    RatioStats
	Timing   TimingStats
}

// ByteStats summarizes a set of HTML sizes in bytes. Zero-size entries are
// excluded before aggregation, matching how failed pages report sizes.
type ByteStats struct {
	Count       int
	Min, Max    int64
	Mean        float64
	Percentiles map[int]int64
}

// RatioStats compares rendered size against initial size for pages where
// both are known.
type RatioStats struct {
	Count        int
	Median, Mean float64
	Min, Max     float64
}

// TimingStats summarizes per-page elapsed seconds.
type TimingStats struct {
	TotalSec float64
	MeanSec  float64
	MinSec   float64
	MaxSec   float64
}

var reportPercentiles = []int{10, 25, 50, 75, 90, 95, 99}

// Load reads a JSON result file produced by a crawl run.
func Load(path string) ([]crawler.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	var results []crawler.Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	return results, nil
}

// Compute aggregates a result set into a Report.
func Compute(results []crawler.Result) Report {
	rep := Report{
		Total:    len(results),
		ByStatus: make(map[crawler.Status]int),
	}

	var initial, rendered []int64
	var ratios []float64
	var times []float64
	for _, r := range results {
		rep.ByStatus[r.Status]++
		if r.InitialBytes > 0 {
			initial = append(initial, r.InitialBytes)
		}
		if r.RenderedBytes > 0 {
			rendered = append(rendered, r.RenderedBytes)
		}
		if r.InitialBytes > 0 && r.RenderedBytes > 0 {
			ratios = append(ratios, float64(r.RenderedBytes)/float64(r.InitialBytes))
		}
		times = append(times, r.ElapsedSec)
	}

	rep.Initial = byteStats(initial)
	rep.Rendered = byteStats(rendered)
	rep.Ratio = ratioStats(ratios)
	rep.Timing = timingStats(times)
	return rep
}

func byteStats(values []int64) ByteStats {
	s := ByteStats{Count: len(values), Percentiles: make(map[int]int64)}
	if len(values) == 0 {
		return s
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	var sum int64
	for _, v := range sorted {
		sum += v
	}
	s.Mean = float64(sum) / float64(len(sorted))
	for _, p := range reportPercentiles {
		s.Percentiles[p] = percentileInt64(sorted, p)
	}
	return s
}

func percentileInt64(sorted []int64, p int) int64 {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ratioStats(ratios []float64) RatioStats {
	s := RatioStats{Count: len(ratios)}
	if len(ratios) == 0 {
		return s
	}
	sorted := append([]float64(nil), ratios...)
	sort.Float64s(sorted)
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.Median = sorted[len(sorted)/2]
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.Mean = sum / float64(len(sorted))
	return s
}

func timingStats(times []float64) TimingStats {
	s := TimingStats{}
	if len(times) == 0 {
		return s
	}
	s.MinSec = times[0]
	s.MaxSec = times[0]
	for _, t := range times {
		s.TotalSec += t
		if t < s.MinSec {
			s.MinSec = t
		}
		if t > s.MaxSec {
			s.MaxSec = t
		}
	}
	s.MeanSec = s.TotalSec / float64(len(times))
	return s
}

// Write renders the report as a human-readable text summary.
func (r Report) Write(w io.Writer) error {
	fmt.Fprintf(w, "=== Crawl Summary ===\n")
	fmt.Fprintf(w, "Total URLs: %d\n", r.Total)
	statuses := make([]crawler.Status, 0, len(r.ByStatus))
	for st := range r.ByStatus {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	for _, st := range statuses {
		count := r.ByStatus[st]
		pct := 0.0
		if r.Total > 0 {
			pct = 100 * float64(count) / float64(r.Total)
		}
		fmt.Fprintf(w, "  %s: %d (%.1f%%)\n", st, count, pct)
	}

	writeByteStats(w, "Initial HTML Bytes", r.Initial)
	writeByteStats(w, "Rendered HTML Bytes", r.Rendered)

	if r.Ratio.Count > 0 {
		fmt.Fprintf(w, "\n=== Size Ratio (rendered / initial) ===\n")
		fmt.Fprintf(w, "Median: %.2fx  Mean: %.2fx\n", r.Ratio.Median, r.Ratio.Mean)
		fmt.Fprintf(w, "Max expansion: %.2fx  Max shrinkage: %.2fx\n", r.Ratio.Max, r.Ratio.Min)
	}

	fmt.Fprintf(w, "\n=== Timing ===\n")
	fmt.Fprintf(w, "Total elapsed: %.1fs\n", r.Timing.TotalSec)
	fmt.Fprintf(w, "Avg per URL: %.1fs\n", r.Timing.MeanSec)
	fmt.Fprintf(w, "Min: %.1fs, Max: %.1fs\n", r.Timing.MinSec, r.Timing.MaxSec)
	return nil
}

func writeByteStats(w io.Writer, label string, s ByteStats) {
	fmt.Fprintf(w, "\n=== %s ===\n", label)
	if s.Count == 0 {
		fmt.Fprintf(w, "No data\n")
		return
	}
	fmt.Fprintf(w, "Count: %d\n", s.Count)
	fmt.Fprintf(w, "Min: %d bytes  Max: %d bytes  Mean: %.0f bytes\n", s.Min, s.Max, s.Mean)
	fmt.Fprintf(w, "Percentiles:\n")
	for _, p := range reportPercentiles {
		fmt.Fprintf(w, "  p%d: %d bytes\n", p, s.Percentiles[p])
	}
}
