package report

import (
	"bytes"
	"context"
	"html/template"
	"time"

	"github.com/odyssey-erp/authmatrix/internal/matrix"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
)

var matrixTemplate = template.Must(template.New("matrix").Funcs(template.FuncMap{
	"statusLabel": func(s string) string { return rbac.Status(s).Label() },
}).Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Authorization Matrix</title>
<style>
body { font-family: sans-serif; font-size: 10px; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #d1d5db; padding: 3px 5px; text-align: left; }
th { background: #f3f4f6; }
.granted { color: #15803d; }
.conditional { color: #b45309; }
.denied { color: #b91c1c; }
</style>
</head>
<body>
<h1>Authorization Matrix</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}</p>
<table>
<thead><tr><th>Role</th><th>Action</th><th>Status</th><th>Limit</th><th>Conditions</th><th>Category</th></tr></thead>
<tbody>
{{range .Rows}}<tr><td>{{.Role}}</td><td>{{.Action}}</td><td class="{{.Status}}">{{statusLabel .Status}}</td><td>{{.Limit}}</td><td>{{.Conditions}}</td><td>{{.Category}}</td></tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

// Renderer converts HTML to PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html []byte, opts PageOptions) ([]byte, error)
}

// MatrixPDF renders matrix export rows as a landscape PDF table.
type MatrixPDF struct {
	Renderer Renderer
}

// MatrixHTML builds the HTML document for rows.
func MatrixHTML(rows []matrix.ExportRow, generatedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	err := matrixTemplate.Execute(&buf, struct {
		Rows        []matrix.ExportRow
		GeneratedAt time.Time
	}{Rows: rows, GeneratedAt: generatedAt})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderMatrixPDF implements matrix.PDFRenderer.
func (m MatrixPDF) RenderMatrixPDF(ctx context.Context, rows []matrix.ExportRow, generatedAt time.Time) ([]byte, error) {
	html, err := MatrixHTML(rows, generatedAt)
	if err != nil {
		return nil, err
	}
	return m.Renderer.RenderHTML(ctx, html, PageOptions{Landscape: true})
}
