// Package tileserver exposes the offline map over HTTP: a cache-first tile
// proxy and a small JSON API to list, download and delete regions.
//
//	GET    /tiles/{z}/{x}/{y}.png     cached tile, else fetched from the network
//	GET    /regions                   catalog with download status
//	GET    /regions/{id}              one region
//	POST   /regions/{id}/download     start a download (202)
//	DELETE /regions/{id}              start a delete (202)
package tileserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/internal/offline"
	"github.com/MrWong99/sadaksathi/internal/regionstatus"
	"github.com/MrWong99/sadaksathi/pkg/tile"
)

const maxZoom = 22

// Regions is the part of [offline.Manager] the server drives.
type Regions interface {
	Regions() []tile.Region
	Region(id string) (tile.Region, error)
	Statuses(ctx context.Context) map[string]regionstatus.Entry
	Source() tile.Source
	GetTile(ctx context.Context, url string) (string, bool)
	DownloadByID(ctx context.Context, id string, onProgress func(int)) error
	DeleteByID(ctx context.Context, id string, onProgress func(int)) error
	Busy(id string) bool
}

var _ Regions = (*offline.Manager)(nil)

// Translator looks up localized text. Missing keys come back unchanged.
type Translator interface {
	T(key string, params map[string]string) string
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithBaseContext sets the context background jobs run under. Cancelling it
// aborts running downloads. Default: context.Background().
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// WithTranslate localizes region names by the "lang" query parameter.
func WithTranslate(fn func(lang string) Translator) Option {
	return func(s *Server) { s.translate = fn }
}

// Server serves tiles and the region API.
type Server struct {
	regions   Regions
	fetcher   offline.Fetcher
	baseCtx   context.Context
	translate func(lang string) Translator

	jobs sync.WaitGroup
}

// New returns a server. fetcher serves cache misses; nil makes the proxy
// offline-only.
func New(regions Regions, fetcher offline.Fetcher, opts ...Option) *Server {
	s := &Server{regions: regions, fetcher: fetcher, baseCtx: context.Background()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /tiles/{z}/{x}/{file}", s.handleTile)
	mux.HandleFunc("GET /regions", s.handleList)
	mux.HandleFunc("GET /regions/{id}", s.handleGet)
	mux.HandleFunc("POST /regions/{id}/download", s.handleDownload)
	mux.HandleFunc("DELETE /regions/{id}", s.handleDelete)
}

// Wait blocks until every background job started by the API has finished.
func (s *Server) Wait() { s.jobs.Wait() }

// RouteLabel collapses request paths to their route template for metrics and
// span names. Use with [observe.WithRouteLabel].
func RouteLabel(r *http.Request) string {
	p := r.URL.Path
	switch {
	case strings.HasPrefix(p, "/tiles/"):
		return "/tiles/{z}/{x}/{y}.png"
	case strings.HasSuffix(p, "/download") && strings.HasPrefix(p, "/regions/"):
		return "/regions/{id}/download"
	case strings.HasPrefix(p, "/regions/"):
		return "/regions/{id}"
	default:
		return p
	}
}

// IsTileRequest reports whether r is a tile fetch. Use with
// [observe.WithQuietRequests] to keep map panning out of the info log.
func IsTileRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/tiles/")
}

// ─── Tiles ───────────────────────────────────────────────────────────────────

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	c, err := parseCoord(r.PathValue("z"), r.PathValue("x"), strings.TrimSuffix(r.PathValue("file"), ".png"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	url := s.regions.Source().URL(c)

	if payload, ok := s.regions.GetTile(ctx, url); ok {
		data, ct, err := offline.DecodeDataURL(payload)
		if err == nil {
			writeTile(w, data, ct, "cache")
			return
		}
		observe.Logger(ctx).Warn("tileserver: cached tile is corrupt, refetching", "tile", c.String(), "error", err)
	}

	if s.fetcher == nil {
		http.Error(w, "tile not available offline", http.StatusNotFound)
		return
	}
	data, ct, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		status := http.StatusBadGateway
		var se *offline.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		observe.Logger(ctx).Debug("tileserver: network fetch failed", "tile", c.String(), "error", err)
		http.Error(w, "tile fetch failed", status)
		return
	}
	writeTile(w, data, ct, "network")
}

func writeTile(w http.ResponseWriter, data []byte, contentType, source string) {
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("X-Tile-Source", source)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseCoord(zs, xs, ys string) (tile.Coord, error) {
	z, errZ := strconv.Atoi(zs)
	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	if err := errors.Join(errZ, errX, errY); err != nil {
		return tile.Coord{}, errors.New("tile coordinates must be integers")
	}
	if z < 0 || z > maxZoom {
		return tile.Coord{}, errors.New("zoom out of range")
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return tile.Coord{}, errors.New("tile outside the zoom level grid")
	}
	return tile.Coord{Z: z, X: x, Y: y}, nil
}

// ─── Regions ─────────────────────────────────────────────────────────────────

// regionView is the JSON shape of a region.
type regionView struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Bounds   [4]float64          `json:"bounds"`
	MinZoom  int                 `json:"minZoom"`
	MaxZoom  int                 `json:"maxZoom"`
	Tiles    int                 `json:"tiles"`
	Status   regionstatus.Status `json:"status"`
	Progress *int                `json:"progress,omitempty"`
	Busy     bool                `json:"busy"`
}

func (s *Server) view(r tile.Region, statuses map[string]regionstatus.Entry, lang string) regionView {
	name := r.NameKey
	if s.translate != nil {
		name = s.translate(lang).T(r.NameKey, nil)
	}
	e, ok := statuses[r.ID]
	if !ok {
		e = regionstatus.Entry{Status: regionstatus.None}
	}
	return regionView{
		ID:       r.ID,
		Name:     name,
		Bounds:   [4]float64{r.Bounds.MinLat, r.Bounds.MinLon, r.Bounds.MaxLat, r.Bounds.MaxLon},
		MinZoom:  r.MinZoom,
		MaxZoom:  r.MaxZoom,
		Tiles:    tile.Count(r),
		Status:   e.Status,
		Progress: e.Progress,
		Busy:     s.regions.Busy(r.ID),
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	statuses := s.regions.Statuses(r.Context())
	lang := r.URL.Query().Get("lang")
	regions := s.regions.Regions()
	out := make([]regionView, 0, len(regions))
	for _, reg := range regions {
		out = append(out, s.view(reg, statuses, lang))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.view(reg, s.regions.Statuses(r.Context()), r.URL.Query().Get("lang")))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, r, "download", s.regions.DownloadByID)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, r, "delete", s.regions.DeleteByID)
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request, op string, run func(context.Context, string, func(int)) error) {
	reg, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.regions.Busy(reg.ID) {
		writeJSON(w, http.StatusConflict, errorBody{Error: offline.ErrRegionBusy.Error()})
		return
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if err := run(s.baseCtx, reg.ID, nil); err != nil {
			slog.Warn("tileserver: region job failed", "op", op, "region", reg.ID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": reg.ID, "op": op})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (tile.Region, bool) {
	reg, err := s.regions.Region(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return tile.Region{}, false
	}
	return reg, true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("tileserver: encode response", "error", err)
	}
}
