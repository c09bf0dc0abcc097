package controller

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

type slotsDeltaResponse struct {
	Chain    string                       `json:"chain"`
	Start    string                       `json:"start"`
	Target   string                       `json:"target"`
	Accounts map[string]map[string]string `json:"accounts"`
}

// HandleSlotsDelta returns the net per-slot change between two versions for
// every contract of a chain. Slots and values render as full 32-byte hex
// words.
func (c *Controller) HandleSlotsDelta(w http.ResponseWriter, r *http.Request) {
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

	delta, err := c.App.Gateway.GetSlotsDelta(r.Context(), chain, start, target)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	accounts := make(map[string]map[string]string, len(delta))
	for addr, slots := range delta {
		rendered := make(map[string]string, len(slots))
		for slot, value := range slots {
			rendered[hexWord(slot)] = hexWord(value)
		}
		accounts[addr.Hex()] = rendered
	}

	writeJSON(w, http.StatusOK, slotsDeltaResponse{
		Chain:    chain.String(),
		Start:    start.String(),
		Target:   target.String(),
		Accounts: accounts,
	})
}

// hexWord renders a 256-bit value as a fixed-width 32-byte hex string.
func hexWord(v uint256.Int) string {
	b := v.Bytes32()
	return hexutil.Encode(b[:])
}
