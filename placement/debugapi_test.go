package placement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/dht"
	"github.com/meridiandb/placement/common/replication"
	"github.com/meridiandb/placement/common/topology"
)

func TestDebugAPI(t *testing.T) {
	m, _ := newTestManager(t, 2)
	d := NewDirector(DirectorOptions{Manager: m})

	table := cluster.NewTableID()
	require.NoError(t, d.CreateTable(context.Background(), table,
		replication.NewStrategy(replication.KindTablet),
		replication.Options{replication.OptionInitialTablets: "4"}, 2))

	srv := NewDebugServer(DebugServerOptions{Topology: m.Handle()})
	router := srv.Router()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/v1/topology")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	decoded, err := topology.DecodeSnapshot(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, m.Current().Version(), decoded.Version())
	assert.Equal(t, 2, decoded.HostCount())

	rec = get("/v1/tablets/" + string(table))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "last_token")

	rec = get("/v1/tablets/" + string(cluster.NewTableID()))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDebugAPIKeyLookup(t *testing.T) {
	m, _ := newTestManager(t, 2)
	d := NewDirector(DirectorOptions{Manager: m})

	table := cluster.NewTableID()
	require.NoError(t, d.CreateTable(context.Background(), table,
		replication.NewStrategy(replication.KindTablet),
		replication.Options{replication.OptionInitialTablets: "4"}, 2))

	srv := NewDebugServer(DebugServerOptions{Topology: m.Handle()})
	router := srv.Router()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/v1/tablets/" + string(table) + "/keys/user-7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp keyLookupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	token := dht.TokenForKey([]byte("user-7"))
	assert.Equal(t, int64(token), resp.Token)

	tmap, err := m.Current().Tablets().GetTabletMap(table)
	require.NoError(t, err)
	assert.Equal(t, uint64(tmap.GetTabletID(token)), resp.Tablet)

	last, err := tmap.GetLastToken(tmap.GetTabletID(token))
	require.NoError(t, err)
	assert.Equal(t, int64(last), resp.LastToken)

	assert.Len(t, resp.Replicas, 2)
	assert.Len(t, resp.Endpoints, 2)

	rec = get("/v1/tablets/" + string(cluster.NewTableID()) + "/keys/user-7")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAPIAdmin(t *testing.T) {
	m, ids := newTestManager(t, 2)
	d := NewDirector(DirectorOptions{Manager: m})

	srv := NewDebugServer(DebugServerOptions{Topology: m.Handle(), Director: d})
	router := srv.Router()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	table := cluster.NewTableID()
	path := "/v1/tables/" + string(table)

	rec := do(http.MethodPut, path, `{"initial_tablets":"4","replication_factor":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	tmap, err := m.Current().Tablets().GetTabletMap(table)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), tmap.TabletCount())

	// double create conflicts
	rec = do(http.MethodPut, path, `{"replication_factor":2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// rf beyond cluster size is a bad request
	rec = do(http.MethodPut, "/v1/tables/"+string(cluster.NewTableID()), `{"replication_factor":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	migration := `{"next":[{"host":"` + string(ids[1]) + `","shard":1}],` +
		`"pending":{"host":"` + string(ids[1]) + `","shard":1}}`

	rec = do(http.MethodPost, path+"/tablets/0/migration", migration)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(http.MethodPost, path+"/tablets/0/migration", migration)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodDelete, path+"/tablets/0/migration", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(http.MethodDelete, path+"/tablets/0/migration", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, path+"/tablets/notanumber/migration", migration)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodDelete, path, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAPIWithoutSnapshot(t *testing.T) {
	m := topology.NewManager(topology.ManagerOptions{})
	srv := NewDebugServer(DebugServerOptions{Topology: m.Handle()})
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/topology", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
