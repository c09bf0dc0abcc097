package controller

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/archon-data/chainstate/pkg/db"
)

// HandleBlock returns one block header by height or 0x-prefixed hash.
func (c *Controller) HandleBlock(w http.ResponseWriter, r *http.Request) {
	chain, err := chainVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	idParam := mux.Vars(r)["id"]
	var id db.BlockIdentifier
	if strings.HasPrefix(idParam, "0x") {
		hash, err := parseHash(idParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid block hash")
			return
		}
		id = db.BlockByHash(hash)
	} else {
		number, err := strconv.ParseUint(idParam, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid block id, want height or 0x-hash")
			return
		}
		id = db.BlockByNumber(chain, number)
	}

	block, err := c.App.Gateway.GetBlock(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, block)
}
