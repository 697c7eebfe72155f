package templates

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/a-h/templ"
)

// writer accumulates the first write error so page bodies read linearly.
type writer struct {
	w   io.Writer
	err error
}

func (p *writer) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *writer) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *writer) cell(v any) {
	if p.err == nil {
		p.err = cell(p.w, v)
	}
}

func (p *writer) link(href, label string) {
	p.raw(`<a href="` + templ.EscapeString(href) + `">`)
	p.text(label)
	p.raw(`</a>`)
}

func layout(title string, data map[string]any, body func(p *writer)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &writer{w: w}
		p.raw("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
		p.text(title)
		p.raw("</title></head><body><main>")
		body(p)
		footer(p, data)
		p.raw("</main></body></html>")
		return p.err
	})
}

func footer(p *writer, data map[string]any) {
	p.raw(`<footer>`)
	if info, ok := data["dataset"].(core.DatasetInfo); ok {
		if info.Source != "" {
			p.raw("Data source: ")
			if info.SourceURL != "" {
				p.link(info.SourceURL, info.Source)
			} else {
				p.text(info.Source)
			}
			p.raw(" ")
		}
		if info.License != "" {
			p.raw("License: ")
			if info.LicenseURL != "" {
				p.link(info.LicenseURL, info.License)
			} else {
				p.text(info.License)
			}
		}
	}
	if v := str(data, "version"); v != "" {
		p.raw(" Powered by dataserve ")
		p.text(v)
	}
	p.raw(`</footer>`)
}

func formatLinks(p *writer, data map[string]any) {
	links, _ := data["renderers"].(map[string]string)
	p.raw(`<p class="export-links">This data as `)
	for _, name := range sortedKeys(links) {
		p.link(links[name], name)
		p.raw(", ")
	}
	p.link(str(data, "url_csv"), "CSV")
	p.raw(`</p>`)
	if args, ok := data["url_csv_hidden_args"].([]core.QueryArg); ok {
		p.raw(`<form class="export" action="`)
		p.text(str(data, "url_csv_path"))
		p.raw(`" method="get"><label><input type="checkbox" name="_dl"> download file</label>`)
		p.raw(`<label><input type="checkbox" name="_stream" checked> stream all rows</label>`)
		for _, a := range args {
			p.raw(`<input type="hidden" name="`)
			p.text(a.Key)
			p.raw(`" value="`)
			p.text(a.Value)
			p.raw(`">`)
		}
		p.raw(`<input type="submit" value="Export CSV"></form>`)
	}
}

func resultTable(p *writer, data map[string]any) {
	columns, _ := data["columns"].([]string)
	rows, _ := data["display_rows"].([][]any)
	p.raw(`<table class="rows"><thead><tr>`)
	for _, c := range columns {
		p.raw(`<th class="col-` + core.ToCSSClass(c) + `">`)
		p.text(c)
		p.raw(`</th>`)
	}
	p.raw(`</tr></thead><tbody>`)
	for _, row := range rows {
		p.raw(`<tr>`)
		for i, v := range row {
			class := ""
			if i < len(columns) {
				class = ` class="col-` + core.ToCSSClass(columns[i]) + `"`
			}
			p.raw(`<td` + class + `>`)
			p.cell(v)
			p.raw(`</td>`)
		}
		p.raw(`</tr>`)
	}
	p.raw(`</tbody></table>`)
}

// IndexPage lists every database.
func IndexPage(data map[string]any) templ.Component {
	return layout("Databases", data, func(p *writer) {
		p.raw(`<h1>Databases</h1><ul>`)
		if dbs, ok := data["databases"].([]map[string]any); ok {
			for _, db := range dbs {
				p.raw(`<li>`)
				p.link(str(db, "path"), str(db, "name"))
				p.raw(`</li>`)
			}
		}
		p.raw(`</ul>`)
	})
}

// DatabasePage lists the tables of one database and offers a SQL form.
func DatabasePage(data map[string]any) templ.Component {
	name := str(data, "database")
	return layout(name, data, func(p *writer) {
		base := str(data, "database_path")
		p.raw(`<h1>`)
		p.text(name)
		p.raw(`</h1>`)
		if allow, _ := data["allow_sql"].(bool); allow {
			p.raw(`<form class="sql" action="`)
			p.text(base)
			p.raw(`" method="get"><textarea name="sql">select * from sqlite_master</textarea><input type="submit" value="Run SQL"></form>`)
		}
		tables, _ := data["tables"].([]core.TableSummary)
		for _, t := range tables {
			p.raw(`<div class="table"><h2>`)
			p.link(base+"/"+url.PathEscape(t.Name), t.Name)
			p.raw(`</h2><p>`)
			if t.Count != nil {
				p.text(fmt.Sprintf("%d rows", *t.Count))
				p.raw(" ")
			}
			for i, c := range t.Columns {
				if i > 0 {
					p.raw(", ")
				}
				p.text(c)
			}
			p.raw(`</p></div>`)
		}
	})
}

// TablePage shows one page of a table with a link to the next page.
func TablePage(data map[string]any) templ.Component {
	table := str(data, "table")
	return layout(table+": "+str(data, "database"), data, func(p *writer) {
		p.raw(`<h1>`)
		p.text(table)
		p.raw(`</h1>`)
		formatLinks(p, data)
		resultTable(p, data)
		if next := str(data, "next_url"); next != "" {
			p.raw(`<p class="next">`)
			p.link(next, "Next page")
			p.raw(`</p>`)
		}
		p.raw(`<p class="timing">`)
		p.text(fmt.Sprintf("Query took %.3fms", data["query_ms"]))
		p.raw(`</p>`)
	})
}

// RowPage shows a single record.
func RowPage(data map[string]any) templ.Component {
	title := str(data, "table") + ": " + str(data, "primary_key")
	return layout(title, data, func(p *writer) {
		p.raw(`<h1>`)
		p.text(title)
		p.raw(`</h1>`)
		formatLinks(p, data)
		resultTable(p, data)
	})
}

// QueryPage shows the SQL editor, parameter inputs and results.
func QueryPage(data map[string]any) templ.Component {
	title := str(data, "title")
	if title == "" {
		title = str(data, "database")
	}
	return layout(title, data, func(p *writer) {
		p.raw(`<h1>`)
		p.text(title)
		p.raw(`</h1>`)

		query, _ := data["query"].(core.QueryInfo)
		hide, _ := data["hide_sql"].(bool)
		write, _ := data["canned_write"].(bool)
		method := "get"
		if write {
			method = "post"
		}
		p.raw(`<form class="sql" method="` + method + `">`)
		if !hide {
			if editable, _ := data["editable"].(bool); editable {
				p.raw(`<textarea name="sql">`)
				p.text(query.SQL)
				p.raw(`</textarea>`)
			} else {
				p.raw(`<pre>`)
				p.text(query.SQL)
				p.raw(`</pre>`)
			}
		}
		if params, ok := data["named_parameter_values"].([]core.NamedValue); ok {
			for _, nv := range params {
				p.raw(`<label>`)
				p.text(nv.Name)
				p.raw(` <input type="text" name="`)
				p.text(nv.Name)
				p.raw(`" value="`)
				p.text(nv.Value)
				p.raw(`"></label>`)
			}
		}
		p.raw(`<input type="submit" value="Run"></form>`)

		if !write {
			formatLinks(p, data)
			resultTable(p, data)
			if truncated, _ := data["truncated"].(bool); truncated {
				p.raw(`<p class="truncated">Results were truncated.</p>`)
			}
		}
	})
}

// ErrorPage renders a classified error.
func ErrorPage(data map[string]any) templ.Component {
	title := str(data, "title")
	if title == "" {
		title = "Error " + str(data, "status")
	}
	return layout(title, data, func(p *writer) {
		p.raw(`<h1>`)
		p.text(title)
		p.raw(`</h1><div class="error">`)
		if isHTML, _ := data["message_is_html"].(bool); isHTML {
			p.raw(str(data, "error"))
		} else {
			p.text(str(data, "error"))
		}
		p.raw(`</div>`)
		if code := str(data, "code"); code != "" {
			p.raw(`<p class="code">Reference: `)
			p.text(code)
			p.raw(`</p>`)
		}
	})
}
