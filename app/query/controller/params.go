package controller

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/types"
)

// chainVar parses the {chain} path variable.
func chainVar(r *http.Request) (types.Chain, error) {
	return types.ParseChain(mux.Vars(r)["chain"])
}

// parseVersion reads the "<prefix>_ts" / "<prefix>_block" query parameters
// into a version selector. Timestamps are RFC3339; blocks are a decimal
// height on the requested chain or a 0x-prefixed block hash. Absent both, the
// version is nil, meaning "now".
func parseVersion(chain types.Chain, qs url.Values, prefix string) (*db.Version, error) {
	tsParam := qs.Get(prefix + "_ts")
	blockParam := qs.Get(prefix + "_block")

	switch {
	case tsParam != "" && blockParam != "":
		return nil, fmt.Errorf("%s_ts and %s_block are mutually exclusive", prefix, prefix)

	case tsParam != "":
		ts, err := time.Parse(time.RFC3339, tsParam)
		if err != nil {
			return nil, fmt.Errorf("invalid %s_ts, want RFC3339", prefix)
		}
		return db.VersionAtTime(ts), nil

	case blockParam != "":
		if strings.HasPrefix(blockParam, "0x") {
			hash, err := parseHash(blockParam)
			if err != nil {
				return nil, fmt.Errorf("invalid %s_block hash", prefix)
			}
			return db.VersionAtBlock(db.BlockByHash(hash)), nil
		}
		number, err := strconv.ParseUint(blockParam, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s_block, want height or 0x-hash", prefix)
		}
		return db.VersionAtBlock(db.BlockByNumber(chain, number)), nil

	default:
		return nil, nil
	}
}

// parseHash parses a 0x-prefixed 32-byte hash, rejecting other lengths
// rather than letting them zero-pad silently.
func parseHash(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("hash must be %d bytes", common.HashLength)
	}
	return common.BytesToHash(raw), nil
}

// parseAddressList splits a comma-separated address parameter. An empty
// parameter means no filter.
func parseAddressList(param string) ([]common.Address, error) {
	if param == "" {
		return nil, nil
	}
	parts := strings.Split(param, ",")
	out := make([]common.Address, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !common.IsHexAddress(p) {
			return nil, fmt.Errorf("invalid address %q", p)
		}
		out = append(out, common.HexToAddress(p))
	}
	return out, nil
}

// parseIDList splits a comma-separated id parameter. An empty parameter
// means no filter.
func parseIDList(param string) []string {
	if param == "" {
		return nil
	}
	parts := strings.Split(param, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
