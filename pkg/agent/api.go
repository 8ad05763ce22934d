package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/edge-sdn/repagent/pkg/devlink"
	"github.com/edge-sdn/repagent/pkg/porttable"
)

// PortStatus is the JSON rendering of one tracked port node.
type PortStatus struct {
	Ifindex    uint32 `json:"ifindex"`
	Name       string `json:"name"`
	Renamed    bool   `json:"renamed"`
	Flavour    string `json:"flavour"`
	Number     uint32 `json:"number"`
	MAC        string `json:"mac,omitempty"`
	OwnerName  string `json:"ownerName,omitempty"`
	Provenance string `json:"provenance"`
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("HTTP request %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// Router returns the HTTP status API of the agent.
func (a *Agent) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(logRequest)
	router.HandleFunc("/ports.json", a.getPorts).Methods("GET")
	router.HandleFunc("/resolve", a.getResolve).Methods("GET")
	return router
}

func (a *Agent) getPorts(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.runLocked()
	nodes := a.table.Nodes()
	statuses := make([]PortStatus, 0, len(nodes))
	for _, n := range nodes {
		s := PortStatus{
			Ifindex: n.Ifindex,
			Name:    n.Name,
			Renamed: n.Renamed,
			Flavour: devlink.FlavourName(n.Flavour),
			Number:  n.Number,
		}
		if !n.HWAddr.IsZero() {
			s.MAC = n.HWAddr.String()
		}
		if owner, ok := a.table.Owner(n); ok {
			s.OwnerName = owner.Name
		}
		if n.Provenance == porttable.FromLive {
			s.Provenance = "live"
		} else {
			s.Provenance = "dump"
		}
		statuses = append(statuses, s)
	}
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statuses); err != nil {
		log.Errorf("failed to encode port status: %v", err)
	}
}

func (a *Agent) getResolve(w http.ResponseWriter, r *http.Request) {
	pfMACStr := r.URL.Query().Get("pf-mac")
	vfNumStr := r.URL.Query().Get("vf-num")
	if pfMACStr == "" || vfNumStr == "" {
		http.Error(w, "pf-mac and vf-num query parameters are required",
			http.StatusBadRequest)
		return
	}
	pfMAC, err := devlink.ParseEthAddr(pfMACStr)
	if err != nil {
		http.Error(w, "malformed pf-mac: "+err.Error(), http.StatusBadRequest)
		return
	}
	vfNum, err := strconv.ParseUint(vfNumStr, 10, 16)
	if err != nil {
		http.Error(w, "malformed vf-num: "+err.Error(), http.StatusBadRequest)
		return
	}

	name, err := a.ResolveVF(pfMAC, uint16(vfNum))
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, ErrRenamePending):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"name": name}); err != nil {
		log.Errorf("failed to encode resolve result: %v", err)
	}
}
