// Package report renders the aggregated dataset as an HTML profile and as a
// terminal summary table.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"maragu.dev/gomponents"
	"maragu.dev/gomponents/html"

	"github.com/lsm/rolewatch/internal/dataset"
)

const style = `body{font-family:Segoe UI,Helvetica,Arial,sans-serif;margin:2rem;color:#1f2328}
table{border-collapse:collapse;margin-bottom:2rem}
th,td{border:1px solid #d0d7de;padding:4px 8px;text-align:left;font-size:13px}
th{background:#f6f8fa}
dl{display:grid;grid-template-columns:max-content auto;gap:4px 16px}
dt{font-weight:600}`

// HTML renders the profile report as a complete HTML document.
func HTML(title string, generated time.Time, ds *dataset.Dataset) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, title, generated, ds); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render writes the profile report to w.
func Render(w io.Writer, title string, generated time.Time, ds *dataset.Dataset) error {
	if err := page(title, generated, ds).Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func page(title string, generated time.Time, ds *dataset.Dataset) gomponents.Node {
	return html.Doctype(
		html.HTML(
			html.Lang("en"),
			html.Head(
				html.Meta(html.Charset("utf-8")),
				html.TitleEl(gomponents.Text(title)),
				html.StyleEl(gomponents.Raw(style)),
			),
			html.Body(
				html.H1(gomponents.Text(title)),
				html.P(gomponents.Text("Generated "+generated.Format("2006-01-02 15:04:05 MST"))),
				overview(ds),
				roleCounts(ds),
				missing(ds),
				records(ds),
			),
		),
	)
}

func overview(ds *dataset.Dataset) gomponents.Node {
	item := func(label string, n int) gomponents.Node {
		return gomponents.Group{html.Dt(gomponents.Text(label)), html.Dd(gomponents.Text(strconv.Itoa(n)))}
	}
	return html.Section(html.ID("overview"),
		html.H2(gomponents.Text("Overview")),
		html.Dl(
			item("Records", ds.Len()),
			item("Distinct users", ds.DistinctUsers()),
			item("Distinct roles", len(ds.RoleCounts())),
			item("Users with more than one role", ds.MultiRoleUsers()),
		),
	)
}

func roleCounts(ds *dataset.Dataset) gomponents.Node {
	return html.Section(html.ID("roles"),
		html.H2(gomponents.Text("Members per role")),
		html.Table(
			html.THead(html.Tr(html.Th(gomponents.Text("Role")), html.Th(gomponents.Text("Members")))),
			html.TBody(gomponents.Map(ds.RoleCounts(), func(rc dataset.RoleCount) gomponents.Node {
				return html.Tr(html.Td(gomponents.Text(rc.Role)), html.Td(gomponents.Text(strconv.Itoa(rc.Count))))
			})),
		),
	)
}

func missing(ds *dataset.Dataset) gomponents.Node {
	counts := ds.Missing()
	rows := make([]gomponents.Node, len(dataset.Columns))
	for i, col := range dataset.Columns {
		rows[i] = html.Tr(html.Td(gomponents.Text(col)), html.Td(gomponents.Text(strconv.Itoa(counts[i]))))
	}
	return html.Section(html.ID("missing"),
		html.H2(gomponents.Text("Missing values")),
		html.Table(
			html.THead(html.Tr(html.Th(gomponents.Text("Column")), html.Th(gomponents.Text("Empty")))),
			html.TBody(gomponents.Group(rows)),
		),
	)
}

func records(ds *dataset.Dataset) gomponents.Node {
	header := make([]gomponents.Node, len(dataset.Columns))
	for i, col := range dataset.Columns {
		header[i] = html.Th(gomponents.Text(col))
	}
	return html.Section(html.ID("records"),
		html.H2(gomponents.Text("Records")),
		html.Table(
			html.THead(html.Tr(gomponents.Group(header))),
			html.TBody(gomponents.Map(ds.Records(), func(r dataset.MemberRecord) gomponents.Node {
				return html.Tr(gomponents.Map(r.Values(), func(v string) gomponents.Node {
					return html.Td(gomponents.Text(v))
				}))
			})),
		),
	)
}
