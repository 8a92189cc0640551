// Package router decodes tool invocations, runs them on the bounded worker
// pool and maps the error taxonomy onto HTTP status codes.
package router

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openterra/geodata-tools/internal/core/executor"
	"github.com/openterra/geodata-tools/internal/core/observability"
	"github.com/openterra/geodata-tools/internal/engine"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/resultcache"
)

type Deps struct {
	Logger *slog.Logger
	Engine *engine.Engine
	Cache  *resultcache.Cache
	Pool   executor.Interface
}

// toolArgs is the union of every tool's JSON argument object.
type toolArgs struct {
	Data         string   `json:"data"`
	InputFormat  string   `json:"input_format"`
	OutputFormat string   `json:"output_format"`
	SourceCRS    string   `json:"source_crs"`
	TargetCRS    string   `json:"target_crs"`
	Distance     *float64 `json:"distance"`
	BufferCRS    string   `json:"buffer_crs"`
	OutputCRS    string   `json:"output_crs"`
	CapStyle     string   `json:"cap_style"`
	JoinStyle    string   `json:"join_style"`
	MitreLimit   float64  `json:"mitre_limit"`
	SingleSided  bool     `json:"single_sided"`
	Resolution   int      `json:"resolution"`

	DataA        string `json:"data_a"`
	InputFormatA string `json:"input_format_a"`
	DataB        string `json:"data_b"`
	InputFormatB string `json:"input_format_b"`
	SourceCRSA   string `json:"source_crs_a"`
	SourceCRSB   string `json:"source_crs_b"`

	ClipData      string `json:"clip_data"`
	ClipFormat    string `json:"clip_format"`
	ClipSourceCRS string `json:"clip_source_crs"`

	By           string            `json:"by"`
	Aggregations map[string]string `json:"aggregations"`
	KeepIndex    bool              `json:"keep_index"`
}

// HandleTool serves POST /tools/{tool}.
func HandleTool(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		tool := chi.URLParam(r, "tool")
		route := "/tools/{tool}"

		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
		if err != nil {
			writeError(sw, geoerr.Processing(err))
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
			return
		}
		var args toolArgs
		if len(body) > 0 {
			if err := json.Unmarshal(body, &args); err != nil {
				writeError(sw, geoerr.Processing(err))
				observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
				return
			}
		}

		op, ok := operation(d.Engine, tool, args)
		if !ok {
			writeError(sw, geoerr.NotFound("tool "+tool))
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
			return
		}

		opStart := time.Now()
		out, err := d.Pool.Submit(r.Context(), op)
		observability.ObserveOperation(tool, outcomeOf(err), time.Since(opStart).Seconds())
		if err != nil {
			d.Logger.Warn("tool failed", slog.String("tool", tool), slog.Any("err", err))
			writeError(sw, err)
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
			return
		}

		writeJSON(sw, http.StatusOK, maybeCache(d, tool, body, out))
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

// operation binds a tool name and decoded args to an engine call.
func operation(e *engine.Engine, tool string, a toolArgs) (func() (any, error), bool) {
	switch tool {
	case "reproject_geodata":
		return func() (any, error) {
			return e.Reproject(engine.ReprojectRequest{
				Data: a.Data, InputFormat: a.InputFormat, TargetCRS: a.TargetCRS,
				SourceCRS: a.SourceCRS, OutputFormat: a.OutputFormat,
			})
		}, true
	case "buffer_geodata":
		return func() (any, error) {
			if a.Distance == nil {
				return nil, geoerr.MissingParameter("distance")
			}
			return e.Buffer(engine.BufferRequest{
				Data: a.Data, InputFormat: a.InputFormat, Distance: *a.Distance,
				SourceCRS: a.SourceCRS, BufferCRS: a.BufferCRS, OutputCRS: a.OutputCRS,
				OutputFormat: a.OutputFormat, CapStyle: a.CapStyle, JoinStyle: a.JoinStyle,
				MitreLimit: a.MitreLimit, SingleSided: a.SingleSided, Resolution: a.Resolution,
			})
		}, true
	case "intersect_geodata":
		return func() (any, error) {
			return e.Intersect(engine.IntersectRequest{
				DataA: a.DataA, InputFormatA: a.InputFormatA,
				DataB: a.DataB, InputFormatB: a.InputFormatB,
				SourceCRSA: a.SourceCRSA, SourceCRSB: a.SourceCRSB,
				TargetCRS: a.TargetCRS, OutputFormat: a.OutputFormat,
			})
		}, true
	case "clip_geodata":
		return func() (any, error) {
			return e.Clip(engine.ClipRequest{
				Data: a.Data, InputFormat: a.InputFormat,
				ClipData: a.ClipData, ClipFormat: a.ClipFormat,
				SourceCRS: a.SourceCRS, ClipSourceCRS: a.ClipSourceCRS,
				TargetCRS: a.TargetCRS, OutputFormat: a.OutputFormat,
			})
		}, true
	case "convert_geodata_format":
		return func() (any, error) {
			return e.Convert(engine.ConvertRequest{
				Data: a.Data, InputFormat: a.InputFormat,
				OutputFormat: a.OutputFormat, SourceCRS: a.SourceCRS,
			})
		}, true
	case "get_geodata_bbox":
		return func() (any, error) {
			return e.BBox(engine.BBoxRequest{
				Data: a.Data, InputFormat: a.InputFormat,
				SourceCRS: a.SourceCRS, TargetCRS: a.TargetCRS,
			})
		}, true
	case "dissolve_geodata":
		return func() (any, error) {
			return e.Dissolve(engine.DissolveRequest{
				Data: a.Data, InputFormat: a.InputFormat, By: a.By,
				Aggregations: a.Aggregations, SourceCRS: a.SourceCRS,
				TargetCRS: a.TargetCRS, OutputFormat: a.OutputFormat,
			})
		}, true
	case "explode_geodata":
		return func() (any, error) {
			return e.Explode(engine.ExplodeRequest{
				Data: a.Data, InputFormat: a.InputFormat, KeepIndex: a.KeepIndex,
				SourceCRS: a.SourceCRS, OutputFormat: a.OutputFormat,
			})
		}, true
	}
	return nil, false
}

// maybeCache stores oversized results and returns the receipt instead.
func maybeCache(d Deps, tool string, params []byte, out any) any {
	raw, err := json.Marshal(out)
	if err != nil {
		return out
	}
	var asMap map[string]any
	if json.Unmarshal(raw, &asMap) != nil {
		return out
	}
	if !d.Cache.ShouldCache(asMap, tool) {
		return out
	}
	var paramMap map[string]any
	_ = json.Unmarshal(params, &paramMap)
	receipt, err := d.Cache.Put(asMap, tool, paramMap)
	if err != nil {
		d.Logger.Warn("cache put failed", slog.String("tool", tool), slog.Any("err", err))
		return out
	}
	return receipt
}

// HandleCacheList serves GET /cache.
func HandleCacheList(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.Cache.List()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
	}
}

// HandleCacheGet serves GET /cache/{id}.
func HandleCacheGet(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		includeFull := r.URL.Query().Get("include_full_data") == "true"
		entry, warning, err := d.Cache.Get(id, includeFull)
		if err != nil {
			writeError(w, err)
			return
		}
		resp := map[string]any{"entry": entry}
		if warning != "" {
			resp["warning"] = warning
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleCacheExport serves POST /cache/{id}/export.
func HandleCacheExport(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var body struct {
			OutputPath string `json:"output_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, geoerr.MissingParameter("output_path"))
			return
		}
		res, err := d.Cache.Export(id, body.OutputPath)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleCacheSample serves GET /cache/{id}/geometry.
func HandleCacheSample(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		maxPoints := 0
		if v := r.URL.Query().Get("max_points"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, geoerr.InvalidStyleParameter("max_points", v))
				return
			}
			maxPoints = n
		}
		s, err := d.Cache.Sample(id, maxPoints)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// HandleCacheClear serves DELETE /cache.
func HandleCacheClear(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := d.Cache.Clear()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy to HTTP: not-found 404, usage errors
// 400, kernel failures 422, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, geoerr.ErrNotFound):
		status = http.StatusNotFound
	case geoerr.IsUsage(err):
		status = http.StatusBadRequest
	case errors.Is(err, geoerr.ErrProcessing):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, geoerr.ErrProcessing):
		return "processing_error"
	case geoerr.IsUsage(err) || errors.Is(err, geoerr.ErrNotFound):
		return "usage_error"
	default:
		return "internal_error"
	}
}
