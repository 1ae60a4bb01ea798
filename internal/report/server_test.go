package report

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run-ordering.html"), []byte("<p>timeline</p>"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httptest.NewServer(Handler(dir, reg))
	defer srv.Close()

	code, body := get(t, srv, "/")
	if code != http.StatusOK || !strings.Contains(body, `href="/timeline/run-ordering.html"`) || strings.Contains(body, "notes.txt") {
		t.Errorf("index: %d\n%s", code, body)
	}
	if code, body := get(t, srv, "/timeline/run-ordering.html"); code != http.StatusOK || body != "<p>timeline</p>" {
		t.Errorf("timeline: %d %q", code, body)
	}
	if code, body := get(t, srv, "/metrics"); code != http.StatusOK || !strings.Contains(body, "test_total 1") {
		t.Errorf("metrics: %d\n%s", code, body)
	}
	if code, _ := get(t, srv, "/nothing"); code != http.StatusNotFound {
		t.Errorf("unknown page: got %d", code)
	}
}

func TestColorize(t *testing.T) {
	defer SetColor(true)
	if got := Colorize("x", ColorRed); got != ColorRed+"x"+ColorReset {
		t.Errorf("got %q", got)
	}
	if CodedColorize("a", "loc") != CodedColorize("b", "loc")[:len(ColorRed)]+"a"+ColorReset {
		t.Errorf("same key picked different colors")
	}
	SetColor(false)
	if got := CodedColorize("x", "loc"); got != "x" {
		t.Errorf("got %q with color off", got)
	}
}
