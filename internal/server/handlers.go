package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/devrev/framekv/internal/gossip"
	"github.com/devrev/framekv/internal/middleware"
	"github.com/devrev/framekv/internal/model"
	"github.com/devrev/framekv/internal/network"
	"github.com/gorilla/mux"
)

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status string `json:"status"`
	Node   int    `json:"node"`
	State  string `json:"state"`
}

// DirectoryEntry is one slot of the node directory.
type DirectoryEntry struct {
	Index int    `json:"index"`
	Addr  string `json:"addr,omitempty"`
}

// DirectoryResponse is the body of /directory.
type DirectoryResponse struct {
	Node        int              `json:"node"`
	State       string           `json:"state"`
	Connections int              `json:"connections"`
	Nodes       []DirectoryEntry `json:"nodes"`
}

// ValueResponse is the body of /kv/{home}/{name}.
type ValueResponse struct {
	Key    string `json:"key"`
	Length int    `json:"length"`
	Hex    string `json:"hex"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) health(status string) HealthResponse {
	return HealthResponse{Status: status, Node: s.network.Index(), State: s.network.State().String()}
}

// handleHealth reports that the process is serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health("healthy"))
}

// handleReady succeeds once the node has joined the cluster.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.network.State() != network.StateActive {
		writeJSON(w, http.StatusServiceUnavailable, s.health("not_ready"))
		return
	}
	writeJSON(w, http.StatusOK, s.health("ready"))
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	dir := s.network.Directory()
	resp := DirectoryResponse{
		Node:        s.network.Index(),
		State:       s.network.State().String(),
		Connections: s.network.Connections(),
		Nodes:       make([]DirectoryEntry, 0, len(dir)),
	}
	for i, addr := range dir {
		entry := DirectoryEntry{Index: i}
		if !addr.IsZero() {
			entry.Addr = addr.String()
		}
		resp.Nodes = append(resp.Nodes, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	if s.members == nil {
		middleware.WriteError(w, r, http.StatusNotFound, "GOSSIP_DISABLED", "gossip is not enabled on this node")
		return
	}
	members := s.members.Members()
	if members == nil {
		members = []gossip.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// handleValue dumps a value held by this node's store. It never forwards.
func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	home, err := strconv.Atoi(vars["home"])
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, kverrors.ErrCodeInvalidArgument.String(), "invalid home node")
		return
	}
	key := model.NewKey(vars["name"], home)

	v, err := s.network.Store().Get(key)
	if err != nil {
		status := http.StatusInternalServerError
		if kverrors.HasCode(err, kverrors.ErrCodeKeyNotFound) {
			status = http.StatusNotFound
		}
		middleware.WriteError(w, r, status, kverrors.GetCode(err).String(), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ValueResponse{
		Key:    key.String(),
		Length: v.Len(),
		Hex:    hex.EncodeToString(v.Bytes()),
	})
}
