package http_server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danthegoodman1/icetier/datastore"
	"github.com/danthegoodman1/icetier/db"
	"github.com/danthegoodman1/icetier/partitioner"
	"github.com/danthegoodman1/icetier/readbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	require.NoError(t, err)
	return NewHTTPServer(db.New(readbuffer.NewHandle(nil), ds, nil, nil))
}

func do(t *testing.T, s *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func insertCPU(t *testing.T, s *HTTPServer) {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/insert", `{"Table":"cpu","Rows":[
		{"host":"a","usage":0.5,"time":10},
		{"host":"b","usage":0.9,"time":20}
	]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPost, "/insert", `{"Table":"cpu","RowsString":"{\"host\":\"c\",\"usage\":0.1,\"time\":30}\n"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decode[InsertStats](t, rec).NumRows)
}

func TestHealthCheck(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/hc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestInsertValidation(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/insert", `{"Rows":[{"a":1}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/insert", `{"Table":"cpu"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/insert", `{"Table":"cpu","RowsString":"nope"}`).Code)

	do(t, s, http.MethodPost, "/insert", `{"Table":"cpu","Rows":[{"usage":0.5}]}`)
	rec := do(t, s, http.MethodPost, "/insert", `{"Table":"cpu","Rows":[{"usage":"high"}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTablesSchemaAndStats(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/tables", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListTablesRes](t, rec).Tables)

	insertCPU(t, s)
	rec = do(t, s, http.MethodGet, "/tables", "")
	assert.Equal(t, []string{"cpu"}, decode[ListTablesRes](t, rec).Tables)

	rec = do(t, s, http.MethodGet, "/tables/cpu/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cols := decode[[]column](t, rec)
	require.Len(t, cols, 3)
	assert.Equal(t, "host", cols[0].Name)
	assert.Equal(t, "utf8", cols[0].Type)

	rec = do(t, s, http.MethodGet, "/tables/cpu/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.Equal(t, float64(3), stats["NumRows"])

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/tables/mem/schema", "").Code)
}

func TestScanFiltersAndColumns(t *testing.T) {
	s := newTestServer(t)
	insertCPU(t, s)

	rec := do(t, s, http.MethodPost, "/tables/cpu/scan", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ScanRes](t, rec)
	assert.True(t, strings.HasPrefix(res.QueryID, "q_"))
	require.Len(t, res.Rows, 3)
	assert.Equal(t, []string{"host", "time", "usage"}, res.Rows[0].ColNames)

	rec = do(t, s, http.MethodPost, "/tables/cpu/scan", `{"Columns":["host"],"Filters":[{"Column":"usage","Op":">","Value":0.3}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[ScanRes](t, rec)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"host"}, res.Rows[0].ColNames)
	assert.Equal(t, []any{"a"}, res.Rows[0].ColVals)
	assert.Equal(t, []any{"b"}, res.Rows[1].ColVals)
	assert.Equal(t, int64(1), res.Rows[1].Num)

	rec = do(t, s, http.MethodPost, "/tables/cpu/scan", `{"Columns":["host"],"Start":15,"End":30}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[ScanRes](t, rec)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{"b"}, res.Rows[0].ColVals)

	rec = do(t, s, http.MethodPost, "/tables/cpu/scan", `{"BatchSize":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[ScanRes](t, rec)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, int64(2), res.Rows[2].Batch)
}

func TestScanErrors(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/tables/cpu/scan", `{}`).Code)

	insertCPU(t, s)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/tables/cpu/scan", `{"Columns":["nope"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/tables/cpu/scan", `{"Filters":[{"Column":"usage","Op":"~","Value":1}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/tables/cpu/scan", `{"Filters":[{"Column":"usage","Op":">"}]}`).Code)
}

func TestChunkLifecycleRoutes(t *testing.T) {
	s := newTestServer(t)
	insertCPU(t, s)
	part := `"Partition":"` + partitioner.DefaultPartition + `"`

	rec := do(t, s, http.MethodPost, "/chunks/move", `{`+part+`,"ChunkID":0}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/chunks/rollover", `{`+part+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint32(0), decode[RolloverRes](t, rec).ChunkID)

	rec = do(t, s, http.MethodPost, "/chunks/move", `{`+part+`,"ChunkID":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "read buffer", decode[db.ChunkSummary](t, rec).Tier)

	rec = do(t, s, http.MethodPost, "/chunks/persist", `{`+part+`,"ChunkID":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/chunks/unload", `{`+part+`,"ChunkID":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "parquet file", decode[db.ChunkSummary](t, rec).Tier)

	rec = do(t, s, http.MethodPost, "/tables/cpu/scan", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/chunks/load", `{`+part+`,"ChunkID":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/tables/cpu/scan", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[ScanRes](t, rec).Rows, 3)

	rec = do(t, s, http.MethodGet, "/chunks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListChunksRes](t, rec).Chunks, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/chunks/move", `{`+part+`}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/chunks/move", `{`+part+`,"ChunkID":9}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/chunks/rollover", `{"Partition":"nope"}`).Code)
}

func TestParseNDJSON(t *testing.T) {
	rows, err := parseNDJSON("{\"a\":1}\n\n  {\"b\":\"x\"}  \n")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"a": float64(1)}, {"b": "x"}}, rows)

	_, err = parseNDJSON("{\"a\":1}\nnull\n")
	assert.EqualError(t, err, "line 2 was not a JSON object")

	_, err = parseNDJSON("[1]")
	assert.Error(t, err)
}
