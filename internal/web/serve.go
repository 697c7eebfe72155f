package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/JonMunkholm/dataserve/internal/logging"
)

// source produces the outcome for one prepared request.
type source func(ctx context.Context, req *core.Request) core.Outcome

// prepare resolves the database segment and negotiates the format. It
// writes a redirect or an error itself and returns nil in that case.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request, segment string, args core.PathArgs) *core.Request {
	ctx := r.Context()
	query := r.URL.Query()
	enforce := query.Get("_hash") != ""

	res, err := s.resolver.Resolve(ctx, segment, "", args, enforce)
	if err != nil {
		s.respondError(w, r, err, formatHint(args))
		return nil
	}
	if res.Redirect != "" {
		s.redirect(w, r, core.Redirect(res.Redirect, true))
		return nil
	}

	db, _ := s.app.Catalog.Get(res.Name)
	neg, err := s.negotiator.Negotiate(ctx, query, args, db.Engine.TableExists)
	if err != nil {
		s.respondError(w, r, err, formatHint(args))
		return nil
	}

	req := &core.Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		RawQuery:    r.URL.RawQuery,
		Query:       query,
		Database:    db,
		Hash:        res,
		Negotiation: neg,
		Next:        query.Get("_next"),
	}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			s.respondError(w, r, core.RejectedError("Invalid form: %v", err), neg.Format)
			return nil
		}
		req.Form = r.PostForm
	}
	return req
}

// formatHint guesses the output format before negotiation has run so
// early errors still come back as JSON for .json URLs.
func formatHint(args core.PathArgs) string {
	if args.AsFormat == "."+core.FormatJSON {
		return core.FormatJSON
	}
	_, format, _ := core.ResolveTableAndFormat(context.Background(), args.TableAndFormat, nil, []string{core.FormatJSON})
	if format == core.FormatJSON {
		return format
	}
	return ""
}

// serveData runs src and writes its result in the negotiated format.
func (s *Server) serveData(w http.ResponseWriter, r *http.Request, req *core.Request, src source) {
	switch req.Negotiation.Format {
	case core.FormatCSV:
		s.serveCSV(w, r, req, src)
		return
	case core.FormatLegacyObjects:
		s.redirect(w, r, core.Redirect(core.LegacyObjectsRedirect(req.Path, req.RawQuery), false))
		return
	}

	start := time.Now()
	out := src(r.Context(), req)
	if out.Kind == core.OutcomeView {
		out = s.dispatcher.Dispatch(r.Context(), req, out.View, time.Since(start))
	}
	s.writeOutcome(w, r, req, out)
}

// serveCSV writes the result as CSV, walking every page when streaming.
func (s *Server) serveCSV(w http.ResponseWriter, r *http.Request, req *core.Request, src source) {
	exportReq := core.ExportRequestFrom(req)

	fetch := func(ctx context.Context, next string) (*core.Page, error) {
		pageReq := *req
		pageReq.Next = next
		pageReq.ForceMaxSize = exportReq.Stream
		out := src(ctx, &pageReq)
		switch out.Kind {
		case core.OutcomeError:
			return nil, out.Err
		case core.OutcomeView:
			return out.View.Data.Page(), nil
		}
		return nil, core.RejectedError("CSV export is not available for this request")
	}

	export, err := s.exporter.Begin(r.Context(), exportReq, fetch)
	if err != nil {
		s.respondError(w, r, err, core.FormatCSV)
		return
	}
	defer export.Close()

	for k, v := range export.Header() {
		w.Header()[k] = v
	}
	s.cache.Apply(w.Header(), http.StatusOK, s.cache.TTL(req.Query, req.Hash.CorrectHashProvided))
	w.WriteHeader(http.StatusOK)

	if err := export.WriteTo(r.Context(), w); err != nil {
		log := logging.WithFields(r.Context(), "database", exportReq.Database, "name", exportReq.Name)
		log.Warn("csv export failed",
			"rows", export.Rows(),
			"bytes", export.BytesWritten(),
			"error", err,
		)
	}
}

// writeOutcome sends a finished outcome to the client.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, req *core.Request, out core.Outcome) {
	switch out.Kind {
	case core.OutcomeRedirect:
		s.redirect(w, r, out)
	case core.OutcomeError:
		s.respondError(w, r, out.Err, req.Negotiation.Format)
	case core.OutcomeResponse:
		resp := out.Response
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		for k, v := range resp.Header {
			w.Header()[k] = v
		}
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		s.cache.Apply(w.Header(), status, s.cache.TTL(req.Query, req.Hash.CorrectHashProvided))
		w.WriteHeader(status)
		w.Write(resp.Body)
	default:
		s.respondError(w, r, core.RejectedError("unexpected outcome"), req.Negotiation.Format)
	}
}

// redirect sends a 302. Forwarded queries lose _hash, which only asks for
// the redirect itself.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, out core.Outcome) {
	location := out.Location
	if out.ForwardQuery {
		location = core.PathWithRemovedArgs(location, r.URL.RawQuery, "_hash")
	}
	w.Header().Set("Link", "<"+location+">; rel=preload")
	if s.cfg.Settings.CORS {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}
