package report

import (
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/divergentdave/alice/internal/log"
)

// Handler serves the phase timelines written to timelineDir and the
// exploration metrics.
func Handler(timelineDir string, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, handlers.CompressHandler(handler))
	}
	handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if timelineDir != "" {
		handle("/timeline/", http.StripPrefix("/timeline/", http.FileServer(http.Dir(timelineDir))))
	}
	handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		names, err := timelines(timelineDir)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTemplate.Execute(w, names); err != nil {
			log.Errorf("failed to render index: %v", err)
		}
	}))
	// Browsers like to request this, without special handler this goes to / handler.
	handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	return mux
}

// Serve blocks serving Handler on addr.
func Serve(addr, timelineDir string) error {
	url := "http://" + addr
	if strings.HasPrefix(addr, ":") {
		url = "http://localhost" + addr
	}
	fmt.Println(Colorize("Serving timelines and metrics on "+url, ColorBlue))
	fmt.Println(Colorize("Press Ctrl+C to stop the server", ColorYellow))
	return http.ListenAndServe(addr, Handler(timelineDir, prometheus.DefaultGatherer))
}

func timelines(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".html" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><title>alice</title></head>
<body>
<h1>Checker timelines</h1>
{{if .}}<ul>
{{range .}}<li><a href="/timeline/{{.}}">{{.}}</a></li>
{{end}}</ul>{{else}}<p>No timelines recorded.</p>{{end}}
<p><a href="/metrics">metrics</a></p>
</body>
</html>
`))
