package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/archon-data/chainstate/pkg/types"
	"github.com/archon-data/chainstate/pkg/utils"
)

// DefaultDeltaStream is the stream committed state changes are announced on.
// Override with the DELTA_STREAM environment variable.
const DefaultDeltaStream = "chainstate:deltas"

// DeltaAnnouncement describes one committed batch of state changes: the
// chain and block it belongs to and the version timestamp it was recorded
// at.
type DeltaAnnouncement struct {
	Chain       types.Chain `json:"chain"`
	BlockHash   common.Hash `json:"block_hash"`
	BlockNumber uint64      `json:"block_number"`
	Ts          time.Time   `json:"ts"`
}

// Publisher announces committed deltas onto a Redis stream.
type Publisher struct {
	client *Client
	stream string
	logger *zap.Logger
}

func NewPublisher(client *Client, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		stream: utils.Env("DELTA_STREAM", DefaultDeltaStream),
		logger: logger,
	}
}

// Stream returns the stream name announcements publish to.
func (p *Publisher) Stream() string {
	return p.stream
}

// AnnounceDelta publishes one announcement. Best effort: failures are logged
// by the client and never surface to the write path that triggered them.
func (p *Publisher) AnnounceDelta(ctx context.Context, chain types.Chain, blockHash common.Hash, blockNumber uint64, ts time.Time) {
	id := p.client.XAdd(ctx, p.stream, map[string]interface{}{
		"chain":        chain.String(),
		"block_hash":   blockHash.Hex(),
		"block_number": strconv.FormatUint(blockNumber, 10),
		"ts":           ts.UTC().Format(time.RFC3339Nano),
	})
	if id != "" {
		p.logger.Debug("Announced delta",
			zap.String("chain", chain.String()),
			zap.Uint64("block", blockNumber),
			zap.String("entry", id))
	}
}

// ParseAnnouncement rebuilds a DeltaAnnouncement from a consumed stream
// message.
func ParseAnnouncement(msg Message) (DeltaAnnouncement, error) {
	chainField, ok := msg.Values["chain"].(string)
	if !ok {
		return DeltaAnnouncement{}, fmt.Errorf("announcement %s has no chain field", msg.ID)
	}
	chain, err := types.ParseChain(chainField)
	if err != nil {
		return DeltaAnnouncement{}, fmt.Errorf("announcement %s: %w", msg.ID, err)
	}

	hashField, _ := msg.Values["block_hash"].(string)
	if hashField == "" {
		return DeltaAnnouncement{}, fmt.Errorf("announcement %s has no block_hash field", msg.ID)
	}

	var blockNumber uint64
	if numberField, ok := msg.Values["block_number"].(string); ok {
		if blockNumber, err = strconv.ParseUint(numberField, 10, 64); err != nil {
			return DeltaAnnouncement{}, fmt.Errorf("announcement %s: bad block_number: %w", msg.ID, err)
		}
	}

	var ts time.Time
	if tsField, ok := msg.Values["ts"].(string); ok {
		if ts, err = time.Parse(time.RFC3339Nano, tsField); err != nil {
			return DeltaAnnouncement{}, fmt.Errorf("announcement %s: bad ts: %w", msg.ID, err)
		}
	}

	return DeltaAnnouncement{
		Chain:       chain,
		BlockHash:   common.HexToHash(hashField),
		BlockNumber: blockNumber,
		Ts:          ts,
	}, nil
}
