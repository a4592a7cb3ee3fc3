/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/mapquiz/quiz"
)

//go:embed assets/*
var assets embed.FS

// CountriesResponse is served at /data/countries.json.
type CountriesResponse struct {
	Loading   bool          `json:"loading,omitempty"`
	Error     string        `json:"error,omitempty"`
	Total     int           `json:"total"`
	Countries []quiz.Entity `json:"countries"`
}

func cacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
}

// cspGame relaxes the default policy just enough for Leaflet and the
// CARTO basemap tiles.
func cspGame(w http.ResponseWriter) {
	w.Header().Set("Content-Security-Policy", "default-src 'self'; "+
		"script-src 'self' https://unpkg.com; "+
		"style-src 'self' https://unpkg.com; "+
		"img-src 'self' data: https://*.basemaps.cartocdn.com; "+
		"connect-src 'self'")
}

func serveHomePage(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)
		http.Redirect(w, r, cfg.prefix+path, http.StatusTemporaryRedirect)
	}
}

func serveGamePage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/geography/index.html")
		if err != nil {
			errs <- err

			return
		}

		page := strings.ReplaceAll(string(data), "{{prefix}}", cfg.prefix)
		page = strings.Replace(page, "{{favicon}}", getFavicon(cfg), 1)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		cacheHeaders(w)
		securityHeaders(cfg, w)
		cspGame(w)

		_, err = w.Write([]byte(page))
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveDataset(cfg *Config, atlas *Atlas, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		// Pages opened during startup hold here until the map exists.
		_ = atlas.wait(r.Context())

		data, ok := atlas.Raw()
		if !ok {
			http.Error(w, "map data unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		cacheHeaders(w)
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Dataset (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveCountries(cfg *Config, atlas *Atlas, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		resp := CountriesResponse{Countries: []quiz.Entity{}}
		status := http.StatusOK

		_ = atlas.wait(r.Context())

		resolver, err := atlas.Resolver()
		switch {
		case errors.Is(err, errAtlasLoading):
			resp.Loading = true
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		case err != nil:
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		default:
			resp.Countries = resolver.Entities()
			resp.Total = len(resp.Countries)
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(status)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			errs <- err

			return
		}
	}
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveAssets(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fname := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, cfg.prefix), "/")

		data, err := assets.ReadFile(fname)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		cacheHeaders(w)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		switch strings.ToLower(filepath.Ext(fname)) {
		case ".css":
			w.Header().Set("Content-Type", "text/css; charset=utf-8")
		case ".js":
			w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		case ".html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}

		_, err = w.Write(data)
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := "User-agent: *\nDisallow: " + cfg.prefix + "/geography/\nDisallow: " + cfg.prefix + "/data/\n"

		cacheHeaders(w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			errs <- err

			return
		}
	}
}
