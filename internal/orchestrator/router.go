package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/icatproject/icat-gateway/internal/catalogue"
	"github.com/icatproject/icat-gateway/internal/gwerrors"
	"github.com/icatproject/icat-gateway/internal/gwlog"
)

// searchEntities is the Search API's curated entity list; "files" is
// reachable only as a sub-resource of a dataset, so it has no top-level
// route of its own.
var searchEntities = []string{"datasets", "documents", "instruments"}

// NewRouter assembles the DataGateway and Search API route families over o,
// one router per entity in registry plus the fixed Search API surface.
// extension is a URL prefix (empty for none); allowedOrigins configures CORS
// the way the teacher's common.AddCors does.
func NewRouter(o *Orchestrator, registry *catalogue.Registry, extension string, allowedOrigins []string) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)
	root.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	router := root
	if extension != "" {
		router = chi.NewRouter()
		root.Mount(extension, router)
	}

	router.Get("/health", healthHandler)
	mountDataGateway(router, o, registry)
	if o.Mapping != nil {
		mountSearchAPI(router, o)
	}

	return root
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- DataGateway API: GET/POST/PATCH/DELETE /E, /E/{id}, /E/count, /E/findone ---

func mountDataGateway(router chi.Router, o *Orchestrator, registry *catalogue.Registry) {
	for _, name := range registry.EntityNames() {
		entity := name
		router.Route("/"+entity, func(r chi.Router) {
			r.Get("/", dataGatewayList(o, entity))
			r.Post("/", dataGatewayCreate(o, entity))
			r.Patch("/", dataGatewayUpdate(o, entity))
			r.Get("/count", dataGatewayCount(o, entity))
			r.Get("/findone", dataGatewayFindOne(o, entity))
			r.Get("/{id}", dataGatewayGet(o, entity))
			r.Delete("/{id}", dataGatewayDelete(o, entity))
		})
	}
}

func dataGatewayList(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := ParseFilterParams(r.URL.Query())
		if writeIfError(w, err) {
			return
		}
		rows, err := o.List(r.Context(), entity, f)
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func dataGatewayGet(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, err := o.Get(r.Context(), entity, chi.URLParam(r, "id"))
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func dataGatewayCount(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := ParseWhereParam(r.URL.Query())
		if writeIfError(w, err) {
			return
		}
		n, err := o.Count(r.Context(), entity, f)
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func dataGatewayFindOne(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := ParseFilterParams(r.URL.Query())
		if writeIfError(w, err) {
			return
		}
		row, err := o.FindOne(r.Context(), entity, f)
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func dataGatewayCreate(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeIfError(w, gwerrors.NewBadFilter("", "invalid JSON body: "+err.Error()))
			return
		}
		row, err := o.Create(r.Context(), entity, body)
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusCreated, row)
	}
}

func dataGatewayUpdate(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeIfError(w, gwerrors.NewBadFilter("", "invalid JSON body: "+err.Error()))
			return
		}
		row, err := o.Update(r.Context(), entity, body)
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func dataGatewayDelete(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := o.Delete(r.Context(), entity, chi.URLParam(r, "id"))
		if writeIfError(w, err) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Search API: GET /datasets|documents|instruments, {pid}, count, plus datasets/{pid}/files ---

func mountSearchAPI(router chi.Router, o *Orchestrator) {
	for _, name := range searchEntities {
		entity := name
		router.Route("/"+entity, func(r chi.Router) {
			r.Get("/", searchList(o, entity))
			r.Get("/count", searchCount(o, entity))
			r.Get("/{pid}", searchGet(o, entity))
		})
	}
	router.Get("/datasets/{pid}/files", searchDatasetFiles(o))
	router.Get("/datasets/{pid}/files/count", searchDatasetFilesCount(o))
}

func searchList(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := ParseFilterParams(r.URL.Query())
		if writeIfError(w, err) {
			return
		}
		results, err := o.SearchList(r.Context(), entity, f)
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func searchGet(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := o.SearchGet(r.Context(), entity, chi.URLParam(r, "pid"))
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func searchCount(o *Orchestrator, entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := ParseWhereParam(r.URL.Query())
		if writeIfError(w, err) {
			return
		}
		n, err := o.SearchCount(r.Context(), entity, f)
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func searchDatasetFiles(o *Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := ParseFilterParams(r.URL.Query())
		if writeIfError(w, err) {
			return
		}
		results, err := o.SearchDatasetFiles(r.Context(), chi.URLParam(r, "pid"), f)
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func searchDatasetFilesCount(o *Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := ParseWhereParam(r.URL.Query())
		if writeIfError(w, err) {
			return
		}
		n, err := o.SearchDatasetFilesCount(r.Context(), chi.URLParam(r, "pid"), f)
		if writeIfError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

// writeIfError writes the {status, message} error body spec.md §6 mandates
// when err is non-nil, and reports whether it did so (so handlers can
// return early in one line). Each error response carries a correlation ID
// in its X-Correlation-Id header so an operator can tie a client-facing
// error back to the matching server log line.
func writeIfError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	resp := gwerrors.NewResponse(err)
	correlationID := uuid.NewString()
	w.Header().Set("X-Correlation-Id", correlationID)
	gwlog.LogError("orchestrator["+correlationID+"]", err)
	writeJSON(w, resp.Status, resp)
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		gwlog.LogError("orchestrator.writeJSON", err)
	}
}
