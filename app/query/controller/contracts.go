package controller

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/evm"
)

// accountResponse adds the hex-rendered slot map the entity keeps out of its
// own JSON shape.
type accountResponse struct {
	*evm.Account
	Slots map[string]string `json:"slots,omitempty"`
}

func renderAccount(account *evm.Account, includeSlots bool) accountResponse {
	out := accountResponse{Account: account}
	if includeSlots {
		out.Slots = make(map[string]string, len(account.Slots))
		for slot, value := range account.Slots {
			out.Slots[hexWord(slot)] = hexWord(value)
		}
	}
	return out
}

// HandleContract returns one contract account as of a version, optionally
// with its storage slots.
func (c *Controller) HandleContract(w http.ResponseWriter, r *http.Request) {
	chain, err := chainVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	addrParam := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrParam) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	qs := r.URL.Query()
	at, err := parseVersion(chain, qs, "at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	includeSlots := qs.Get("slots") == "true"

	id := db.NewContractID(chain, common.HexToAddress(addrParam))
	account, err := c.App.Gateway.GetContract(r.Context(), id, at, includeSlots)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, renderAccount(account, includeSlots))
}

// HandleContracts returns the live contract accounts of a chain as of a
// version, optionally filtered by address.
func (c *Controller) HandleContracts(w http.ResponseWriter, r *http.Request) {
	chain, err := chainVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	qs := r.URL.Query()
	at, err := parseVersion(chain, qs, "at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addresses, err := parseAddressList(qs.Get("addresses"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	includeSlots := qs.Get("slots") == "true"

	accounts, err := c.App.Gateway.GetContracts(r.Context(), chain, at, addresses, includeSlots)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, renderAccount(account, includeSlots))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": out})
}
