package devchain

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"
)

// Simulated outcome range of an automatically settled execution, in basis points
const (
	minOutcomeBps = -500
	maxOutcomeBps = 1000
)

// autoSettle completes executions included at least SettleAfterBlocks ago,
// acting for the agent owner. Returns how many were settled.
func (c *Chain) autoSettle(ctx context.Context, tx *sql.Tx, block uint64, now time.Time) (int, error) {
	if block <= c.opts.SettleAfterBlocks {
		return 0, nil
	}
	cutoff := block - c.opts.SettleAfterBlocks

	rows, err := tx.QueryContext(ctx, `
		SELECT execution_id, agent_id, user_address, amount, storage_root_hash
		FROM executions
		WHERE is_completed = 0 AND block_number <= ?
		ORDER BY execution_id
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query open executions: %w", err)
	}

	var open []*openExecution
	for rows.Next() {
		e := &openExecution{}
		var amount string
		if err := rows.Scan(&e.id, &e.agentID, &e.user, &amount, &e.rootHash); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.amount = parseBig(amount)
		open = append(open, e)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	for _, e := range open {
		st := &state{ctx: ctx, tx: tx, block: block, txHash: settlementRef(block, e.id), now: now}
		if err := st.settle(e, SimulatedPnL(e.id, e.rootHash, e.amount)); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

// SimulatedPnL derives a deterministic outcome for an execution from its id
// and storage root
func SimulatedPnL(executionID uint64, rootHash string, amount *big.Int) *big.Int {
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], executionID)
	sum := sha256.Sum256(append(idBuf[:], rootHash...))

	span := uint64(maxOutcomeBps - minOutcomeBps + 1)
	bps := int64(binary.BigEndian.Uint64(sum[:8])%span) + minOutcomeBps

	pnl := new(big.Int).Mul(amount, big.NewInt(bps))
	return pnl.Quo(pnl, big.NewInt(10000))
}

func settlementRef(block, executionID uint64) string {
	return fmt.Sprintf("settlement-%d-%d", block, executionID)
}
