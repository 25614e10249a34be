package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dd0wney/cluso-election/pkg/election"
	"github.com/dd0wney/cluso-election/pkg/health"
	"github.com/dd0wney/cluso-election/pkg/logging"
	"github.com/dd0wney/cluso-election/pkg/pubsub"
	"github.com/dd0wney/cluso-election/pkg/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type apiServer struct {
	cluster *election.Cluster
	health  *health.HealthChecker
	logger  logging.Logger

	// done closes when the daemon starts shutting down, ending event streams
	done <-chan struct{}
}

// ClusterResponse is the body of GET /cluster
type ClusterResponse struct {
	Algorithm string                    `json:"algorithm"`
	Leader    int                       `json:"leader"`
	Converged bool                      `json:"converged"`
	Instances []election.InstanceStatus `json:"instances"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type messageRequest struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type partitionRequest struct {
	A int `json:"a"`
	B int `json:"b"`
}

func newServer(cluster *election.Cluster, logger logging.Logger) *apiServer {
	s := &apiServer{
		cluster: cluster,
		health:  health.NewHealthChecker(),
		logger:  logger.With(logging.Component("http")),
	}

	manager := cluster.Manager()
	quorum := health.QuorumCheck(func() (int, int) {
		return int(manager.AliveSet().Count()), len(manager.IDs())
	})
	agreement := health.LeaderAgreementCheck(cluster.Leaders, manager.HighestAlive)
	backlog := health.MailboxBacklogCheck(func() map[int]int {
		depths := make(map[int]int)
		for _, inst := range cluster.Instances() {
			depths[inst.ID()] = inst.Pending()
		}
		return depths
	}, cluster.Config().MailboxWarnDepth)

	s.health.RegisterCheck("quorum", quorum)
	s.health.RegisterCheck("leader_agreement", agreement)
	s.health.RegisterCheck("mailbox_backlog", backlog)
	s.health.RegisterReadinessCheck("leader_agreement", agreement)
	s.health.RegisterLivenessCheck("quorum", quorum)
	return s
}

// attach ties event streams and readiness to the HTTP server's lifecycle
func (s *apiServer) attach(gs *server.GracefulServer) {
	s.done = gs.ShutdownChannel()
	s.health.RegisterReadinessCheck("serving", health.ServingCheck(gs.IsShuttingDown))
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", s.health.HTTPHandler())
	mux.Handle("GET /health/ready", s.health.ReadinessHandler())
	mux.Handle("GET /health/live", s.health.LivenessHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(
		s.cluster.Metrics().GetPrometheusRegistry(),
		promhttp.HandlerOpts{},
	))

	mux.HandleFunc("GET /cluster", s.handleCluster)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /instances/{id}/kill", s.handleKill)
	mux.HandleFunc("POST /instances/{id}/revive", s.handleRevive)
	mux.HandleFunc("POST /instances/{id}/heartbeat", s.handleInvoke(election.KindHeartbeatInvoke))
	mux.HandleFunc("POST /instances/{id}/election", s.handleInvoke(election.KindElectionInvoke))
	mux.HandleFunc("POST /instances/{id}/messages", s.handleMessage)
	mux.HandleFunc("POST /partitions", s.handlePartition)
	mux.HandleFunc("DELETE /partitions", s.handleHeal)

	return mux
}

func (s *apiServer) handleCluster(w http.ResponseWriter, r *http.Request) {
	leader, converged := s.cluster.Converged()
	s.respondJSON(w, http.StatusOK, ClusterResponse{
		Algorithm: string(s.cluster.Config().Algorithm),
		Leader:    leader,
		Converged: converged,
		Instances: s.cluster.Snapshot(),
	})
}

func (s *apiServer) handleKill(w http.ResponseWriter, r *http.Request) {
	s.withInstance(w, r, s.cluster.Kill)
}

func (s *apiServer) handleRevive(w http.ResponseWriter, r *http.Request) {
	s.withInstance(w, r, s.cluster.Revive)
}

func (s *apiServer) handleInvoke(kind election.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.withInstance(w, r, func(id int) error {
			return s.cluster.Inject(id, election.Signal(kind))
		})
	}
}

func (s *apiServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := election.ParseKind(req.Kind)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.withInstance(w, r, func(id int) error {
		return s.cluster.Inject(id, election.NewMessage(kind, req.Content))
	})
}

func (s *apiServer) handlePartition(w http.ResponseWriter, r *http.Request) {
	var req partitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.cluster.Manager().Link().Partition(req.A, req.B)
	s.logger.Info("link partitioned", logging.Int("a", req.A), logging.Int("b", req.B))
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleHeal(w http.ResponseWriter, r *http.Request) {
	s.cluster.Manager().Link().HealAll()
	s.logger.Info("all partitions healed")
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams leader changes as newline-delimited JSON
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.cluster.Subscribe(r.Context(), pubsub.TopicLeader)
	if err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// withInstance parses {id} and runs op, mapping election errors to status codes
func (s *apiServer) withInstance(w http.ResponseWriter, r *http.Request, op func(id int) error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	switch err := op(id); {
	case err == nil:
		s.logger.Info("control request", logging.String("path", r.URL.Path), logging.InstanceID(id))
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, election.ErrInstanceNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, election.ErrNoAliveInstance):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.respondError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *apiServer) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
