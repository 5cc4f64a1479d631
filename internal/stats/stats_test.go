package stats

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendercrawl/rendercrawl/internal/crawler"
)

func sampleResults() []crawler.Result {
	return []crawler.Result{
		{URL: "https://a.test/1", Status: crawler.StatusSuccess, InitialBytes: 1000, RenderedBytes: 4000, ElapsedSec: 2},
		{URL: "https://b.test/1", Status: crawler.StatusSuccess, InitialBytes: 2000, RenderedBytes: 2000, ElapsedSec: 4},
		{URL: "https://c.test/1", Status: crawler.StatusSuccess, InitialBytes: 3000, RenderedBytes: 1500, ElapsedSec: 6},
		{URL: "https://d.test/1", Status: crawler.StatusTimeout, InitialBytes: 500, RenderedBytes: 0, ElapsedSec: 60},
		{URL: "https://e.test/1", Status: crawler.StatusFailed, InitialBytes: 0, RenderedBytes: 0, ElapsedSec: 1, Error: "boom"},
	}
}

func TestComputeAggregates(t *testing.T) {
	rep := Compute(sampleResults())

	require.Equal(t, 5, rep.Total)
	require.Equal(t, 3, rep.ByStatus[crawler.StatusSuccess])
	require.Equal(t, 1, rep.ByStatus[crawler.StatusTimeout])
	require.Equal(t, 1, rep.ByStatus[crawler.StatusFailed])

	// Zero-byte entries are excluded from size aggregation.
	require.Equal(t, 4, rep.Initial.Count)
	require.Equal(t, int64(500), rep.Initial.Min)
	require.Equal(t, int64(3000), rep.Initial.Max)
	require.Equal(t, 3, rep.Rendered.Count)

	// Ratios only exist where both sizes are known.
	require.Equal(t, 3, rep.Ratio.Count)
	require.InDelta(t, 4.0, rep.Ratio.Max, 0.001)
	require.InDelta(t, 0.5, rep.Ratio.Min, 0.001)

	require.InDelta(t, 73.0, rep.Timing.TotalSec, 0.001)
	require.InDelta(t, 1.0, rep.Timing.MinSec, 0.001)
	require.InDelta(t, 60.0, rep.Timing.MaxSec, 0.001)
}

func TestComputeEmptyInput(t *testing.T) {
	rep := Compute(nil)
	require.Equal(t, 0, rep.Total)
	require.Equal(t, 0, rep.Initial.Count)
	require.Equal(t, 0.0, rep.Timing.TotalSec)
}

func TestPercentilesAreOrdered(t *testing.T) {
	results := make([]crawler.Result, 0, 100)
	for i := 1; i <= 100; i++ {
		results = append(results, crawler.Result{
			Status:        crawler.StatusSuccess,
			InitialBytes:  int64(i * 10),
			RenderedBytes: int64(i * 40),
			ElapsedSec:    1,
		})
	}
	rep := Compute(results)

	prev := int64(0)
	for _, p := range []int{10, 25, 50, 75, 90, 95, 99} {
		v := rep.Initial.Percentiles[p]
		require.GreaterOrEqual(t, v, prev, "p%d must not be below lower percentiles", p)
		prev = v
	}
	require.InDelta(t, 505.0, rep.Initial.Mean, 0.001)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"url":"https://a.test/1","status":"SUCCESS","initial_html_bytes":10,"rendered_html_bytes":40,"elapsed_sec":1.5}
	]`), 0o600))

	results, err := Load(path)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, crawler.StatusSuccess, results[0].Status)
	require.Equal(t, int64(40), results[0].RenderedBytes)
}

func TestWriteReportMentionsEverySection(t *testing.T) {
	var b strings.Builder
	require.NoError(t, Compute(sampleResults()).Write(&b))

	out := b.String()
	for _, want := range []string{"Crawl Summary", "Initial HTML Bytes", "Rendered HTML Bytes", "Size Ratio", "Timing", "SUCCESS", "p95"} {
		require.Contains(t, out, want)
	}
}
