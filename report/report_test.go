package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authmatrix/internal/matrix"
)

func TestRenderHTMLPostsMultipartForm(t *testing.T) {
	var gotHTML, gotLandscape string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, _, err := r.FormFile("files")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		gotHTML = string(data)
		gotLandscape = r.FormValue("landscape")
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	pdf, err := NewClient(srv.URL+"/").RenderHTML(context.Background(), []byte("<p>hi</p>"), PageOptions{Landscape: true})
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(pdf))
	assert.Equal(t, "<p>hi</p>", gotHTML)
	assert.Equal(t, "true", gotLandscape)
}

func TestRenderHTMLReportsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), []byte("x"), PageOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "chromium crashed")
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	assert.NoError(t, NewClient(srv.URL).Ping(context.Background()))
}

func TestMatrixHTMLEscapesCells(t *testing.T) {
	rows := []matrix.ExportRow{{Role: "Manager", Action: "<script>", Status: "conditional", Limit: "5000", Conditions: `Needs "VP"`, Category: "Finance"}}
	html, err := MatrixHTML(rows, time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	doc := string(html)
	assert.Contains(t, doc, "Generated 2024-03-09 10:00 UTC")
	assert.Contains(t, doc, "&lt;script&gt;")
	assert.NotContains(t, doc, "<td><script>")
	assert.Equal(t, 1, strings.Count(doc, `class="conditional"`))
	assert.Contains(t, doc, `<td class="conditional">Conditional</td>`)
}

type fakeRenderer struct {
	html []byte
	opts PageOptions
}

func (f *fakeRenderer) RenderHTML(_ context.Context, html []byte, opts PageOptions) ([]byte, error) {
	f.html, f.opts = html, opts
	return []byte("%PDF"), nil
}

func TestMatrixPDFUsesLandscape(t *testing.T) {
	fr := &fakeRenderer{}
	out, err := MatrixPDF{Renderer: fr}.RenderMatrixPDF(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(out))
	assert.True(t, fr.opts.Landscape)
	assert.Contains(t, string(fr.html), "<table>")
}
