package controller

import (
	"net/http"
)

// HandleTokens returns the tokens known on a chain, optionally filtered by
// address.
func (c *Controller) HandleTokens(w http.ResponseWriter, r *http.Request) {
	chain, err := chainVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	addresses, err := parseAddressList(r.URL.Query().Get("addresses"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tokens, err := c.App.Gateway.GetTokens(r.Context(), chain, addresses)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": tokens})
}
