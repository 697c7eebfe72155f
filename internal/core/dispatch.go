package core

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Renderer turns result data into a structured response for one format.
// Returning a nil response and a nil error means there is nothing to render.
type Renderer func(ctx context.Context, args url.Values, data *ResultData, view string) (*Response, error)

// RendererRegistry maps format names to renderers. It is filled at startup
// and read concurrently afterwards.
type RendererRegistry struct {
	mu        sync.RWMutex
	order     []string
	renderers map[string]Renderer
}

func NewRendererRegistry() *RendererRegistry {
	return &RendererRegistry{renderers: make(map[string]Renderer)}
}

// Register adds a renderer. csv and jsono are handled elsewhere and cannot
// be registered.
func (r *RendererRegistry) Register(name string, fn Renderer) error {
	if name == "" || name == FormatCSV || name == FormatLegacyObjects {
		return fmt.Errorf("renderer name %q is reserved", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.renderers[name]; ok {
		return fmt.Errorf("renderer %q already registered", name)
	}
	r.renderers[name] = fn
	r.order = append(r.order, name)
	return nil
}

func (r *RendererRegistry) Lookup(name string) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.renderers[name]
	return fn, ok
}

// Names returns the registered formats in registration order.
func (r *RendererRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// TemplateRenderer renders the first template in names that exists.
type TemplateRenderer interface {
	Render(ctx context.Context, names []string, data map[string]any) ([]byte, error)
}

// DatasetInfo is descriptive metadata shown alongside results.
type DatasetInfo struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
	License     string `json:"license,omitempty"`
	LicenseURL  string `json:"license_url,omitempty"`
}

// Dispatcher picks between structured renderers and the template path.
type Dispatcher struct {
	Renderers     *RendererRegistry
	Templates     TemplateRenderer
	Info          func(database string) DatasetInfo
	Version       string
	Settings      map[string]any
	TemplateDebug bool
}

// LegacyObjectsRedirect rewrites a jsono request to its .json equivalent
// with _shape=objects.
func LegacyObjectsRedirect(path, rawQuery string) string {
	suffix := "." + FormatLegacyObjects
	if strings.HasSuffix(path, suffix) {
		path = strings.TrimSuffix(path, suffix)
	} else {
		path = PathWithRemovedArgs(path, rawQuery, "_format")
		path, rawQuery, _ = strings.Cut(path, "?")
	}
	return PathWithAddedArgs(path+"."+FormatJSON, rawQuery, QueryArg{Key: "_shape", Value: "objects"})
}

// Dispatch renders view for the negotiated format. elapsed is the time
// spent producing the data.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, view *View, elapsed time.Duration) Outcome {
	format := req.Negotiation.Format
	if format == FormatLegacyObjects {
		return Redirect(LegacyObjectsRedirect(req.Path, req.RawQuery), false)
	}

	data := view.Data
	data.QueryMS = float64(elapsed.Microseconds()) / 1000
	info := d.info(data.Database)
	data.Source, data.SourceURL = info.Source, info.SourceURL
	data.License, data.LicenseURL = info.License, info.LicenseURL

	if format != "" {
		if fn, ok := d.Renderers.Lookup(format); ok {
			resp, err := fn(ctx, req.Query, data, view.Name)
			if err != nil {
				return Failure(err)
			}
			if resp == nil {
				return Failure(NotFoundError("No data"))
			}
			return ResponseOutcome(resp)
		}
	}
	return d.renderPage(ctx, req, view, info)
}

func (d *Dispatcher) info(database string) DatasetInfo {
	if d.Info == nil {
		return DatasetInfo{}
	}
	return d.Info(database)
}

func (d *Dispatcher) renderPage(ctx context.Context, req *Request, view *View, info DatasetInfo) Outcome {
	extras, err := view.Extra.Resolve(ctx)
	if err != nil {
		return Failure(err)
	}

	page := view.Data.Map()
	for k, v := range extras {
		page[k] = v
	}

	var labelsExtra []QueryArg
	if len(view.Data.ExpandableColumns) > 0 {
		labelsExtra = []QueryArg{{Key: "_labels", Value: "on"}}
	}
	links := make(map[string]string)
	for _, name := range d.Renderers.Names() {
		links[name] = PathWithFormat(req.Path, req.RawQuery, name, labelsExtra...)
	}
	csvArgs := append([]QueryArg{{Key: "_size", Value: "max"}}, labelsExtra...)

	page["renderers"] = links
	page["url_csv"] = PathWithFormat(req.Path, req.RawQuery, FormatCSV, csvArgs...)
	page["url_csv_path"] = PathWithFormat(req.Path, "", FormatCSV)
	page["url_csv_hidden_args"] = CSVHiddenArgs(req.RawQuery)
	page["dataset"] = info
	page["version"] = d.Version
	page["config"] = d.Settings
	page["view_name"] = view.Name

	if d.TemplateDebug && req.Query.Get("_context") != "" {
		dump, err := json.MarshalIndent(page, "", "    ")
		if err != nil {
			return Failure(fmt.Errorf("encode template context: %w", err))
		}
		return ResponseOutcome(&Response{
			Status:      http.StatusOK,
			ContentType: "text/html; charset=utf-8",
			Body:        []byte("<pre>" + html.EscapeString(string(dump)) + "</pre>"),
		})
	}

	body, err := d.Templates.Render(ctx, view.Templates, page)
	if err != nil {
		return Failure(err)
	}
	return ResponseOutcome(&Response{
		Status:      http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Body:        body,
	})
}

// CSVHiddenArgs returns the arguments the export form must carry: the
// current query minus display-only toggles, with the page size forced to max.
func CSVHiddenArgs(rawQuery string) []QueryArg {
	var out []QueryArg
	for _, a := range ParseQueryArgs(rawQuery) {
		switch a.Key {
		case "_labels", "_facet", "_size":
			continue
		}
		out = append(out, a)
	}
	return append(out, QueryArg{Key: "_size", Value: "max"})
}
