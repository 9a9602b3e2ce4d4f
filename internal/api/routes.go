package api

import (
	"cmp"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/config"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIToken, cfg.Logger))

		r.Get("/movies", listMoviesHandler(cfg))
		r.Get("/movies/{filename}/clip-plan", clipPlanHandler(cfg))
		r.Get("/frame-plan", framePlanHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
			Project: string(cfg.Project),
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(r.Context())
			switch {
			case err != nil:
				resp.Status = "degraded"
				resp.Transcoder = &TranscoderStatus{Error: err.Error()}
			case caps != nil:
				ts := &TranscoderStatus{Available: true, Path: caps.Path, Version: caps.Version}
				if !caps.ProbedAt.IsZero() {
					ts.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.Transcoder = ts
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listMoviesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		movies, err := cfg.Catalog.AvailableMovies(r.Context(), cfg.Resolver)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list movies", "INTERNAL_ERROR")
			return
		}

		resp := MoviesResponse{Movies: movies}
		if resp.Movies == nil {
			resp.Movies = []catalog.AvailableMovie{}
		}
		for _, m := range movies {
			if m.Found {
				resp.Available++
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func clipPlanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, err := url.PathUnescape(chi.URLParam(r, "filename"))
		if err != nil || filename == "" {
			WriteError(w, http.StatusBadRequest, "movie filename required", "BAD_REQUEST")
			return
		}

		q := r.URL.Query()
		opts := config.ClipOptions{Project: cfg.Project, MovieFilename: filename}
		if opts.ClipLength, err = queryInt(q, "clip_length", config.AllowedClipLengths[0]); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if opts.RangeStart, err = queryIntPtr(q, "start"); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if opts.RangeEnd, err = queryIntPtr(q, "end"); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		plan, err := cfg.Planner.PlanClips(r.Context(), opts)
		if err != nil {
			writePlanError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ClipPlanResponse{ClipPlan: plan})
	}
}

func framePlanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ids, err := parseIDs(q.Get("species"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		n, err := queryInt(q, "n_frames", 3)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		opts := config.FrameOptions{Project: cfg.Project, SpeciesIDs: ids, NFrames: n}
		plan, species, err := cfg.Planner.PlanFrames(r.Context(), opts)
		if err != nil {
			writePlanError(w, err)
			return
		}

		resp := FramePlanResponse{FramePlan: plan, Species: make([]*catalog.Species, 0, len(species))}
		for _, sp := range species {
			resp.Species = append(resp.Species, sp)
		}
		slices.SortFunc(resp.Species, func(a, b *catalog.Species) int { return cmp.Compare(a.ID, b.ID) })
		WriteJSON(w, http.StatusOK, resp)
	}
}

func writePlanError(w http.ResponseWriter, err error) {
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteError(w, http.StatusBadRequest, verr.Error(), "VALIDATION_ERROR")
	case errors.Is(err, catalog.ErrMovieNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func queryInt(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func queryIntPtr(q url.Values, key string) (*int, error) {
	if q.Get(key) == "" {
		return nil, nil
	}
	n, err := queryInt(q, key, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.New("species must be a comma separated list of ids")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
