package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/go-chi/chi/v5"
)

// handleIndex lists every attached database.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asJSON := strings.HasSuffix(r.URL.Path, ".json")
	format := ""
	if asJSON {
		format = core.FormatJSON
	}

	databases := make([]map[string]any, 0, s.app.Catalog.Len())
	byName := make(map[string]any, s.app.Catalog.Len())
	for _, db := range s.app.Catalog.All() {
		tables, err := db.Engine.Tables(ctx)
		if err != nil {
			s.respondError(w, r, err, format)
			return
		}
		entry := map[string]any{
			"name":         db.Name,
			"hash":         nullable(db.Hash),
			"path":         core.DatabasePath(db, s.cfg.Settings.HashURLs),
			"tables_count": len(tables),
			"mutable":      db.Mutable,
		}
		databases = append(databases, entry)
		byName[db.Name] = entry
	}

	if asJSON {
		s.writeJSON(w, http.StatusOK, byName)
		return
	}

	body, err := s.app.Templates.Render(ctx, []string{"index.html"}, map[string]any{
		"databases": databases,
		"dataset":   s.app.Metadata.DatasetInfo(""),
		"version":   Version,
	})
	if err != nil {
		s.respondError(w, r, err, format)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.cache.Apply(w.Header(), http.StatusOK, s.cache.TTL(r.URL.Query(), false))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// handleDatabase serves the table list, ad-hoc SQL and the .db download.
func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request) {
	segment := chi.URLParam(r, "db")
	args := core.PathArgs{}
	if strings.HasSuffix(segment, ".db") {
		segment = strings.TrimSuffix(segment, ".db")
		args.AsDB = ".db"
	} else {
		name, format, err := core.ResolveTableAndFormat(r.Context(), segment, s.databaseExists, s.renderers.Names())
		if err != nil {
			s.respondError(w, r, err, "")
			return
		}
		segment = name
		if format != "" {
			args.AsFormat = "." + format
		}
	}

	req := s.prepare(w, r, segment, args)
	if req == nil {
		return
	}
	if args.AsDB != "" {
		s.serveDownload(w, r, req)
		return
	}
	s.serveData(w, r, req, s.databases.Data)
}

// handleTable serves a table, a view or a canned query. POST is only
// accepted by writable canned queries.
func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	args := core.PathArgs{TableAndFormat: chi.URLParam(r, "table")}
	req := s.prepare(w, r, chi.URLParam(r, "db"), args)
	if req == nil {
		return
	}

	name := req.Args().Table
	if spec, ok := s.app.Metadata.CannedQuery(req.Database.Name, name); ok {
		if r.Method == http.MethodPost && !spec.Write {
			s.methodNotAllowed(w, r, req)
			return
		}
		s.serveData(w, r, req, func(ctx context.Context, req *core.Request) core.Outcome {
			return s.queries.Execute(ctx, req, spec)
		})
		return
	}
	if r.Method == http.MethodPost {
		s.methodNotAllowed(w, r, req)
		return
	}
	s.serveData(w, r, req, s.tables.Data)
}

// handleRow serves one record addressed by its primary key values.
func (s *Server) handleRow(w http.ResponseWriter, r *http.Request) {
	pk, format, err := core.ResolveTableAndFormat(r.Context(), chi.URLParam(r, "pk"), nil, s.renderers.Names())
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	args := core.PathArgs{Table: chi.URLParam(r, "table"), PKPath: pk}
	if format != "" {
		args.AsFormat = "." + format
	}

	req := s.prepare(w, r, chi.URLParam(r, "db"), args)
	if req == nil {
		return
	}
	s.serveData(w, r, req, s.tables.RowData)
}

// handleOptions answers CORS preflight requests.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	s.cache.Apply(w.Header(), http.StatusOK, 0)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"dataserve": map[string]string{"version": Version},
		"go":        runtime.Version(),
	})
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.Exports.Status())
}

// serveDownload sends the backing file of an immutable database.
func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request, req *core.Request) {
	db := req.Database
	switch {
	case !s.cfg.Settings.AllowDownload:
		s.respondError(w, r, core.RejectedError("Database download is forbidden"), "")
		return
	case db.Mutable:
		s.respondError(w, r, core.RejectedError("Mutable databases cannot be downloaded"), "")
		return
	case db.Path == "":
		s.respondError(w, r, core.NotFoundError("Database has no file: %s", db.Name), "")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.db"`, db.Name))
	s.cache.Apply(w.Header(), http.StatusOK, s.cache.TTL(req.Query, req.Hash.CorrectHashProvided))
	http.ServeFile(w, r, db.Path)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request, req *core.Request) {
	err := &core.Error{
		Kind:    core.KindConfigRejected,
		Status:  http.StatusMethodNotAllowed,
		Title:   "Method not allowed",
		Message: "Method not allowed",
	}
	s.respondError(w, r, err, req.Negotiation.Format)
}

func (s *Server) databaseExists(_ context.Context, name string) (bool, error) {
	_, ok := s.app.Catalog.Get(name)
	return ok, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	s.cache.Apply(w.Header(), status, s.cfg.Settings.DefaultCacheTTL)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
