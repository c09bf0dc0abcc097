package controller

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
)

// HandleProtocolTypes returns registered protocol type definitions,
// optionally filtered by name.
func (c *Controller) HandleProtocolTypes(w http.ResponseWriter, r *http.Request) {
	names := parseIDList(r.URL.Query().Get("names"))

	protocolTypes, err := c.App.Gateway.GetProtocolTypes(r.Context(), names)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": protocolTypes})
}

// HandleComponents returns the protocol components of a chain, optionally
// filtered by protocol system and external ids.
func (c *Controller) HandleComponents(w http.ResponseWriter, r *http.Request) {
	chain, err := chainVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	qs := r.URL.Query()
	components, err := c.App.Gateway.GetProtocolComponents(r.Context(), chain, qs.Get("system"), parseIDList(qs.Get("ids")))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": components})
}

// HandleComponentState returns one component's attribute map as of a
// version.
func (c *Controller) HandleComponentState(w http.ResponseWriter, r *http.Request) {
	chain, err := chainVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := mux.Vars(r)["id"]
	at, err := parseVersion(chain, r.URL.Query(), "at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	states, err := c.App.Gateway.GetProtocolStates(r.Context(), chain, at, []string{id})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(states) == 0 {
		writeError(w, http.StatusNotFound, "no recorded state for component")
		return
	}

	writeJSON(w, http.StatusOK, states[0])
}

// HandleComponentBalances returns one component's token balances as of a
// version.
func (c *Controller) HandleComponentBalances(w http.ResponseWriter, r *http.Request) {
	chain, err := chainVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := mux.Vars(r)["id"]
	at, err := parseVersion(chain, r.URL.Query(), "at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balances, err := c.App.Gateway.GetComponentBalances(r.Context(), chain, at, []string{id})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": balances})
}

type stateDeltaResponse struct {
	Chain      string                              `json:"chain"`
	Start      string                              `json:"start"`
	Target     string                              `json:"target"`
	Components map[string]map[string]hexutil.Bytes `json:"components"`
}

// HandleStateDelta returns the net per-attribute change of every component
// of a chain between two versions. An empty attribute value means the
// attribute is unset at the target version.
func (c *Controller) HandleStateDelta(w http.ResponseWriter, r *http.Request) {
	chain, err := chainVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	qs := r.URL.Query()
	start, err := parseVersion(chain, qs, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := parseVersion(chain, qs, "target")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delta, err := c.App.Gateway.GetProtocolStateDelta(r.Context(), chain, start, target)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	components := make(map[string]map[string]hexutil.Bytes, len(delta))
	for id, attrs := range delta {
		rendered := make(map[string]hexutil.Bytes, len(attrs))
		for name, value := range attrs {
			rendered[name] = value
		}
		components[id] = rendered
	}

	writeJSON(w, http.StatusOK, stateDeltaResponse{
		Chain:      chain.String(),
		Start:      start.String(),
		Target:     target.String(),
		Components: components,
	})
}

type balanceDeltaResponse struct {
	Chain      string                       `json:"chain"`
	Start      string                       `json:"start"`
	Target     string                       `json:"target"`
	Components map[string]map[string]string `json:"components"`
}

// HandleBalanceDeltas returns the net (component, token) balance change
// between two versions as raw 32-byte hex values.
func (c *Controller) HandleBalanceDeltas(w http.ResponseWriter, r *http.Request) {
	chain, err := chainVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	qs := r.URL.Query()
	start, err := parseVersion(chain, qs, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := parseVersion(chain, qs, "target")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delta, err := c.App.Gateway.GetBalanceDeltas(r.Context(), chain, start, target)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	components := make(map[string]map[string]string, len(delta))
	for id, balances := range delta {
		rendered := make(map[string]string, len(balances))
		for token, value := range balances {
			rendered[token.Hex()] = hexutil.Encode(value)
		}
		components[id] = rendered
	}

	writeJSON(w, http.StatusOK, balanceDeltaResponse{
		Chain:      chain.String(),
		Start:      start.String(),
		Target:     target.String(),
		Components: components,
	})
}
