package api

import (
	"net/http"

	"github.com/unalkalkan/epub2md-web/internal/health"
)

// RouterOptions collects the handlers served by NewRouter
type RouterOptions struct {
	Conversion *ConversionHandler
	Health     *health.Handler
	Info       http.HandlerFunc
	// StaticDir serves a browser UI at / when set
	StaticDir string
}

// NewRouter wires all endpoints. Paths containing ".." are refused before routing.
func NewRouter(opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	if opts.Health != nil {
		mux.HandleFunc("/health/live", opts.Health.LivenessHandler())
		mux.HandleFunc("/health/ready", opts.Health.ReadinessHandler())
		mux.HandleFunc("/health", opts.Health.HealthHandler())
	}
	if opts.Info != nil {
		mux.HandleFunc("/api/v1/info", opts.Info)
	}

	// Conversion endpoints
	h := opts.Conversion
	mux.HandleFunc("/upload", h.Upload)
	mux.HandleFunc("/convert", h.Convert)
	mux.HandleFunc("/convert-reverse", h.ConvertReverse)
	mux.HandleFunc("/download-all/", h.DownloadAll)
	mux.HandleFunc("/download/", h.DownloadFile)
	mux.HandleFunc("/download-epub/", h.DownloadEPUB)

	if opts.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(opts.StaticDir)))
	}

	return RejectTraversal(mux)
}
