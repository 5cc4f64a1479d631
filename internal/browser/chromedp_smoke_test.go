package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/crawler"
)

// Guarded end-to-end checks against a real Chrome. Run with
// RENDERCRAWL_CHROME_TESTS=1; skipped otherwise and when Chrome is absent.

func launchRealInstance(t *testing.T) crawler.Instance {
	t.Helper()
	if os.Getenv("RENDERCRAWL_CHROME_TESTS") == "" {
		t.Skip("set RENDERCRAWL_CHROME_TESTS=1 to run against a real browser")
	}
	driver := NewChromedpDriver(DriverConfig{SettleDelay: 100 * time.Millisecond}, zap.NewNop())
	inst, err := driver.Launch(context.Background())
	if err != nil {
		t.Skipf("chrome unavailable: %v", err)
	}
	t.Cleanup(inst.Terminate)
	return inst
}

func navigateOnce(t *testing.T, inst crawler.Instance, url string) crawler.Result {
	t.Helper()
	page, err := inst.NewPageContext(context.Background())
	require.NoError(t, err)
	defer page.Close()
	res := page.Navigate(context.Background(), url, 15*time.Second)
	require.Equal(t, crawler.StatusSuccess, res.Status, "navigate %s: %s", url, res.Error)
	return res
}

func TestPageContextsShareNoCookies(t *testing.T) {
	// The first visit receives a cookie; any later request carrying it
	// gets a much larger body, so rendered size tells leak from no-leak.
	leakMarker := strings.Repeat("<p>leaked</p>", 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("crumb"); err == nil && c.Value == "tainted" {
			fmt.Fprintf(w, "<html><body>%s</body></html>", leakMarker)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "crumb", Value: "tainted"})
		fmt.Fprint(w, "<html><body>clean</body></html>")
	}))
	defer srv.Close()

	inst := launchRealInstance(t)

	first := navigateOnce(t, inst, srv.URL)
	require.Less(t, first.RenderedBytes, int64(len(leakMarker)),
		"first context must see the clean page")

	second := navigateOnce(t, inst, srv.URL)
	require.Less(t, second.RenderedBytes, int64(len(leakMarker)),
		"cookie set in the first context must not be visible to the second")
}

func TestNavigateCapturesInitialAndRenderedSizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>document.body.innerHTML = '<div>`+
			strings.Repeat("expanded ", 512)+`</div>';</script></body></html>`)
	}))
	defer srv.Close()

	inst := launchRealInstance(t)
	res := navigateOnce(t, inst, srv.URL)

	require.Greater(t, res.InitialBytes, int64(0))
	require.Greater(t, res.RenderedBytes, res.InitialBytes,
		"script-built DOM must outweigh the wire document")
	require.Greater(t, res.ElapsedSec, 0.0)
}
