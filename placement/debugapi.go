// Debug HTTP surface: metrics, topology and tablet-map introspection.

package placement

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/dht"
	"github.com/meridiandb/placement/common/replication"
	"github.com/meridiandb/placement/common/tablets"
	"github.com/meridiandb/placement/common/topology"
)

type DebugServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
	Topology      topology.Handle

	// Director enables the admin routes; leave nil on follower nodes.
	Director *Director
}

type DebugServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	topology      topology.Handle
	director      *Director
	httpServer    *http.Server
}

func NewDebugServer(opts DebugServerOptions) *DebugServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DebugServer{
		logger:        logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
		topology:      opts.Topology,
		director:      opts.Director,
	}
}

func (s *DebugServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
	if _, err := rw.Write([]byte("meridiandb placement debug api")); err != nil {
		s.logger.Debug("failed to write root response", zap.Error(err))
	}
}

// pinned takes a reference on the current snapshot for the duration of one
// request, so a concurrent publish cannot dispose of it mid-read. The
// returned release func must be called when the handler is done; the
// snapshot is nil when nothing has been published yet.
func (s *DebugServer) pinned(r *http.Request) (*topology.Snapshot, func()) {
	snap := s.topology.Get()
	if snap == nil {
		return nil, func() {}
	}

	snap.Acquire()
	return snap, func() {
		if err := snap.Release(r.Context()); err != nil {
			s.logger.Debug("interrupted while releasing a snapshot", zap.Error(err))
		}
	}
}

func (s *DebugServer) handleTopology(rw http.ResponseWriter, r *http.Request) {
	snap, release := s.pinned(r)
	defer release()
	if snap == nil {
		http.Error(rw, "no topology snapshot published yet", http.StatusServiceUnavailable)
		return
	}

	data, err := topology.EncodeSnapshot(snap)
	if err != nil {
		s.logger.Error("failed to encode topology snapshot", zap.Error(err))
		http.Error(rw, "failed to encode snapshot", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	if _, err := rw.Write(data); err != nil {
		s.logger.Debug("failed to write topology response", zap.Error(err))
	}
}

func (s *DebugServer) handleTabletMap(rw http.ResponseWriter, r *http.Request) {
	snap, release := s.pinned(r)
	defer release()
	if snap == nil {
		http.Error(rw, "no topology snapshot published yet", http.StatusServiceUnavailable)
		return
	}

	table := cluster.TableID(mux.Vars(r)["table"])
	tmap, err := snap.Tablets().GetTabletMap(table)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusNotFound)
		return
	}

	rw.Header().Set("Content-Type", "text/plain")
	if _, err := rw.Write([]byte(tmap.String())); err != nil {
		s.logger.Debug("failed to write tablet map response", zap.Error(err))
	}
}

type keyLookupResponse struct {
	Token     int64         `json:"token"`
	Tablet    uint64        `json:"tablet"`
	LastToken int64         `json:"last_token"`
	Replicas  []jsonReplica `json:"replicas"`
	Endpoints []string      `json:"endpoints"`
}

// handleKeyLookup hashes a partition key onto the ring and reports the
// tablet owning it along with the endpoints holding its data.
func (s *DebugServer) handleKeyLookup(rw http.ResponseWriter, r *http.Request) {
	snap, release := s.pinned(r)
	defer release()
	if snap == nil {
		http.Error(rw, "no topology snapshot published yet", http.StatusServiceUnavailable)
		return
	}

	vars := mux.Vars(r)
	tmap, err := snap.Tablets().GetTabletMap(cluster.TableID(vars["table"]))
	if err != nil {
		http.Error(rw, err.Error(), http.StatusNotFound)
		return
	}

	token := dht.TokenForKey([]byte(vars["key"]))
	tablet := tmap.GetTabletID(token)

	info, err := tmap.GetTabletInfo(tablet)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	lastToken, err := tmap.GetLastToken(tablet)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := keyLookupResponse{
		Token:     int64(token),
		Tablet:    uint64(tablet),
		LastToken: int64(lastToken),
	}
	for _, replica := range info.Replicas {
		resp.Replicas = append(resp.Replicas, jsonReplica{
			Host:  string(replica.Host),
			Shard: uint32(replica.Shard),
		})
		if ep, ok := snap.EndpointForHost(replica.Host); ok {
			resp.Endpoints = append(resp.Endpoints, ep.HostPort())
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		s.logger.Debug("failed to write key lookup response", zap.Error(err))
	}
}

type createTableRequest struct {
	InitialTablets    string `json:"initial_tablets,omitempty"`
	ReplicationFactor uint32 `json:"replication_factor"`
}

type startMigrationRequest struct {
	Next    []jsonReplica `json:"next"`
	Pending jsonReplica   `json:"pending"`
}

type jsonReplica struct {
	Host  string `json:"host"`
	Shard uint32 `json:"shard"`
}

func (r jsonReplica) toReplica() tablets.TabletReplica {
	return tablets.TabletReplica{
		Host:  cluster.HostID(r.Host),
		Shard: cluster.ShardID(r.Shard),
	}
}

// writeDirectorError maps director failures onto HTTP statuses.
func writeDirectorError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tablets.ErrTabletMapNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrTableExists),
		errors.Is(err, ErrMigrationInProgress),
		errors.Is(err, ErrNoActiveMigration):
		status = http.StatusConflict
	case errors.Is(err, ErrNotEnoughHosts),
		errors.Is(err, replication.ErrInvalidOption),
		errors.Is(err, replication.ErrTabletsDisabled),
		errors.Is(err, tablets.ErrInvalidTabletID):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNoTopology):
		status = http.StatusServiceUnavailable
	}
	http.Error(rw, err.Error(), status)
}

func (s *DebugServer) handleCreateTable(rw http.ResponseWriter, r *http.Request) {
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	opts := replication.Options{}
	if req.InitialTablets != "" {
		opts[replication.OptionInitialTablets] = req.InitialTablets
	}

	table := cluster.TableID(mux.Vars(r)["table"])
	strat := replication.NewStrategy(replication.KindTablet)
	if err := s.director.CreateTable(r.Context(), table, strat, opts, req.ReplicationFactor); err != nil {
		writeDirectorError(rw, err)
		return
	}

	rw.WriteHeader(http.StatusCreated)
}

func (s *DebugServer) handleDropTable(rw http.ResponseWriter, r *http.Request) {
	table := cluster.TableID(mux.Vars(r)["table"])
	if err := s.director.DropTable(r.Context(), table); err != nil {
		writeDirectorError(rw, err)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

func (s *DebugServer) tabletFromRequest(rw http.ResponseWriter, r *http.Request) (cluster.TableID, tablets.TabletID, bool) {
	vars := mux.Vars(r)
	tablet, err := strconv.ParseUint(vars["tablet"], 10, 64)
	if err != nil {
		http.Error(rw, "invalid tablet id", http.StatusBadRequest)
		return "", 0, false
	}
	return cluster.TableID(vars["table"]), tablets.TabletID(tablet), true
}

func (s *DebugServer) handleStartMigration(rw http.ResponseWriter, r *http.Request) {
	table, tablet, ok := s.tabletFromRequest(rw, r)
	if !ok {
		return
	}

	var req startMigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	info := tablets.TabletTransitionInfo{
		Pending: req.Pending.toReplica(),
	}
	for _, replica := range req.Next {
		info.Next = append(info.Next, replica.toReplica())
	}

	if err := s.director.StartTabletMigration(r.Context(), table, tablet, info); err != nil {
		writeDirectorError(rw, err)
		return
	}

	rw.WriteHeader(http.StatusAccepted)
}

func (s *DebugServer) handleFinishMigration(rw http.ResponseWriter, r *http.Request) {
	table, tablet, ok := s.tabletFromRequest(rw, r)
	if !ok {
		return
	}

	if err := s.director.FinishTabletMigration(r.Context(), table, tablet); err != nil {
		writeDirectorError(rw, err)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

func (s *DebugServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	if s.logLevel != nil {
		// zap's AtomicLevel speaks HTTP: GET reads the level, PUT sets it
		r.Handle("/debug/loglevel", s.logLevel)
	}
	r.HandleFunc("/v1/topology", s.handleTopology).Methods(http.MethodGet)
	r.HandleFunc("/v1/tablets/{table}", s.handleTabletMap).Methods(http.MethodGet)
	r.HandleFunc("/v1/tablets/{table}/keys/{key}", s.handleKeyLookup).Methods(http.MethodGet)

	if s.director != nil {
		r.HandleFunc("/v1/tables/{table}", s.handleCreateTable).Methods(http.MethodPut)
		r.HandleFunc("/v1/tables/{table}", s.handleDropTable).Methods(http.MethodDelete)
		r.HandleFunc("/v1/tables/{table}/tablets/{tablet}/migration", s.handleStartMigration).Methods(http.MethodPost)
		r.HandleFunc("/v1/tables/{table}/tablets/{tablet}/migration", s.handleFinishMigration).Methods(http.MethodDelete)
	}

	r.HandleFunc("/", s.handleRoot)

	return r
}

func (s *DebugServer) ListenAndServe() error {
	s.httpServer = &http.Server{
		Handler:      s.Router(),
		Addr:         s.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

func (s *DebugServer) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}
