// Package devchain is a single-node development chain running the TradingArena
// contract on sqlite. It implements the arena client's Backend.
package devchain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/database"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/wallet"
	"github.com/rs/zerolog"
)

var _ arena.Backend = (*Chain)(nil)

// Options configures a Chain
type Options struct {
	ChainID uint64
	// SettleAfterBlocks completes open executions this many blocks after
	// inclusion. Zero disables automatic settlement.
	SettleAfterBlocks uint64
}

// Chain is the dev chain node. Writes are serialized; reads go straight to the database.
type Chain struct {
	db   *sql.DB
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	mineMu sync.Mutex
}

// New creates a chain over db (schema: chain)
func New(db *sql.DB, opts Options, log zerolog.Logger) *Chain {
	return &Chain{
		db:   db,
		opts: opts,
		log:  log.With().Str("component", "devchain").Uint64("chain_id", opts.ChainID).Logger(),
		now:  time.Now,
	}
}

// ChainID returns the network id of the chain
func (c *Chain) ChainID(ctx context.Context) (uint64, error) {
	return c.opts.ChainID, nil
}

// BlockNumber returns the latest mined block, 0 before the first block
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	var n sql.NullInt64
	if err := c.db.QueryRowContext(ctx, `SELECT MAX(number) FROM blocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to read block number: %w", err)
	}
	return uint64(n.Int64), nil
}

// PendingNonce returns the next nonce for account, counting queued transactions
func (c *Chain) PendingNonce(ctx context.Context, account string) (uint64, error) {
	account = normalize(account)

	var confirmed int64
	err := c.db.QueryRowContext(ctx, `SELECT nonce FROM accounts WHERE address = ?`, account).Scan(&confirmed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read nonce: %w", err)
	}

	var queued sql.NullInt64
	err = c.db.QueryRowContext(ctx, `
		SELECT MAX(nonce) FROM transactions WHERE sender = ? AND status = 'pending'
	`, account).Scan(&queued)
	if err != nil {
		return 0, fmt.Errorf("failed to read queued nonce: %w", err)
	}

	next := uint64(confirmed)
	if queued.Valid && uint64(queued.Int64)+1 > next {
		next = uint64(queued.Int64) + 1
	}
	return next, nil
}

// NativeBalance returns the wallet balance of account
func (c *Chain) NativeBalance(ctx context.Context, account string) (*big.Int, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE address = ?`, normalize(account)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return parseBig(raw), nil
}

// Fund credits account from the faucet
func (c *Chain) Fund(ctx context.Context, account string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("faucet amount must be positive")
	}
	c.mineMu.Lock()
	defer c.mineMu.Unlock()

	return database.WithTransactionContext(ctx, c.db, func(tx *sql.Tx) error {
		bal, _, err := loadAccount(ctx, tx, normalize(account))
		if err != nil {
			return err
		}
		return setBalance(ctx, tx, normalize(account), new(big.Int).Add(bal, amount))
	})
}

// SendTransaction validates tx and queues it for the next block
func (c *Chain) SendTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	if tx.ChainID != c.opts.ChainID {
		return "", fmt.Errorf("%w: %d", arena.ErrWrongChain, tx.ChainID)
	}
	if err := wallet.VerifyTransaction(tx); err != nil {
		return "", fmt.Errorf("%w: %v", arena.ErrBadSignature, err)
	}

	hash, err := tx.Hash()
	if err != nil {
		return "", fmt.Errorf("failed to hash transaction: %w", err)
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}

	c.mineMu.Lock()
	defer c.mineMu.Unlock()

	sender := normalize(tx.From)
	var confirmed int64
	err = c.db.QueryRowContext(ctx, `SELECT nonce FROM accounts WHERE address = ?`, sender).Scan(&confirmed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	if tx.Nonce < uint64(confirmed) {
		return "", fmt.Errorf("%w: got %d, next is %d", arena.ErrNonceTooLow, tx.Nonce, confirmed)
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transactions (hash, sender, nonce, method, payload, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
	`, hash, sender, tx.Nonce, string(tx.Method), string(payload), c.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to queue transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("%w: nonce %d already used", arena.ErrNonceTooLow, tx.Nonce)
	}

	c.log.Debug().Str("tx_hash", hash).Str("method", string(tx.Method)).Uint64("nonce", tx.Nonce).Msg("Transaction queued")
	return hash, nil
}

type queuedTx struct {
	hash string
	tx   domain.Transaction
}

// Mine includes every executable queued transaction in a new block and runs
// automatic settlement. Returns the new block number.
func (c *Chain) Mine(ctx context.Context) (uint64, error) {
	c.mineMu.Lock()
	defer c.mineMu.Unlock()

	var block uint64
	var included, settled int
	err := database.WithTransactionContext(ctx, c.db, func(tx *sql.Tx) error {
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(number) FROM blocks`).Scan(&last); err != nil {
			return fmt.Errorf("failed to read head: %w", err)
		}
		block = uint64(last.Int64) + 1
		minedAt := c.now()

		queued, err := loadQueued(ctx, tx)
		if err != nil {
			return err
		}

		for _, q := range queued {
			_, nonce, err := loadAccount(ctx, tx, normalize(q.tx.From))
			if err != nil {
				return err
			}
			if q.tx.Nonce != nonce {
				// Gap in the sender's nonces; wait for the missing one
				continue
			}

			if _, err := tx.ExecContext(ctx, `SAVEPOINT apply_tx`); err != nil {
				return fmt.Errorf("failed to open savepoint: %w", err)
			}

			st := &state{ctx: ctx, tx: tx, block: block, txHash: q.hash, now: minedAt}
			revert, err := st.apply(&q.tx)
			if err != nil {
				return fmt.Errorf("failed to apply %s: %w", q.hash, err)
			}

			if revert != "" {
				if _, err := tx.ExecContext(ctx, `ROLLBACK TO apply_tx`); err != nil {
					return fmt.Errorf("failed to roll back reverted call: %w", err)
				}
				_, err = tx.ExecContext(ctx, `
					UPDATE transactions SET status = 'reverted', block_number = ?, revert_reason = ? WHERE hash = ?
				`, block, revert, q.hash)
			} else {
				_, err = tx.ExecContext(ctx, `
					UPDATE transactions SET status = 'success', block_number = ? WHERE hash = ?
				`, block, q.hash)
			}
			if err != nil {
				return fmt.Errorf("failed to record receipt: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `RELEASE apply_tx`); err != nil {
				return fmt.Errorf("failed to release savepoint: %w", err)
			}

			if err := setNonce(ctx, tx, normalize(q.tx.From), nonce+1); err != nil {
				return err
			}
			included++
		}

		if c.opts.SettleAfterBlocks > 0 {
			n, err := c.autoSettle(ctx, tx, block, minedAt)
			if err != nil {
				return err
			}
			settled = n
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO blocks (number, mined_at, tx_count) VALUES (?, ?, ?)`,
			block, minedAt.Unix(), included)
		if err != nil {
			return fmt.Errorf("failed to write block: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if included > 0 || settled > 0 {
		c.log.Debug().Uint64("block", block).Int("txs", included).Int("settled", settled).Msg("Mined block")
	}
	return block, nil
}

// Run mines a block every interval until ctx is done
func (c *Chain) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info().Dur("interval", interval).Msg("Dev chain started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Dev chain stopped")
			return
		case <-ticker.C:
			if _, err := c.Mine(ctx); err != nil && ctx.Err() == nil {
				c.log.Error().Err(err).Msg("Failed to mine block")
			}
		}
	}
}

// TransactionReceipt returns the receipt of an included transaction
func (c *Chain) TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	var status string
	var block sql.NullInt64
	var reason sql.NullString
	err := c.db.QueryRowContext(ctx, `
		SELECT status, block_number, revert_reason FROM transactions WHERE hash = ?
	`, txHash).Scan(&status, &block, &reason)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && status == "pending") {
		return nil, arena.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction: %w", err)
	}

	receipt := &domain.Receipt{
		TxHash:       txHash,
		Status:       domain.TxStatus(status),
		BlockNumber:  uint64(block.Int64),
		RevertReason: reason.String,
	}
	if receipt.Status == domain.TxSuccess {
		evs, err := c.queryEvents(ctx, `SELECT id, name, block_number, tx_hash, fields FROM events WHERE tx_hash = ? ORDER BY id`, txHash)
		if err != nil {
			return nil, err
		}
		receipt.Events = evs
	}
	return receipt, nil
}

// Events returns up to limit events with id greater than afterID
func (c *Chain) Events(ctx context.Context, afterID int64, limit int) ([]domain.ChainEvent, error) {
	return c.queryEvents(ctx, `
		SELECT id, name, block_number, tx_hash, fields FROM events WHERE id > ? ORDER BY id LIMIT ?
	`, afterID, limit)
}

func (c *Chain) queryEvents(ctx context.Context, query string, args ...interface{}) ([]domain.ChainEvent, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []domain.ChainEvent
	for rows.Next() {
		var ev domain.ChainEvent
		var fields string
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Block, &ev.TxHash, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &ev.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode event fields: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func loadQueued(ctx context.Context, tx *sql.Tx) ([]queuedTx, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT hash, payload FROM transactions WHERE status = 'pending' ORDER BY sender, nonce
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load queued transactions: %w", err)
	}
	defer rows.Close()

	var out []queuedTx
	for rows.Next() {
		var q queuedTx
		var payload string
		if err := rows.Scan(&q.hash, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &q.tx); err != nil {
			return nil, fmt.Errorf("failed to decode transaction %s: %w", q.hash, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func loadAccount(ctx context.Context, tx *sql.Tx, addr string) (*big.Int, uint64, error) {
	var raw string
	var nonce int64
	err := tx.QueryRowContext(ctx, `SELECT balance, nonce FROM accounts WHERE address = ?`, addr).Scan(&raw, &nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read account %s: %w", addr, err)
	}
	return parseBig(raw), uint64(nonce), nil
}

func setBalance(ctx context.Context, tx *sql.Tx, addr string, balance *big.Int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (address, balance) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET balance = excluded.balance
	`, addr, balance.String())
	if err != nil {
		return fmt.Errorf("failed to write balance of %s: %w", addr, err)
	}
	return nil
}

func setNonce(ctx context.Context, tx *sql.Tx, addr string, nonce uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (address, nonce) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET nonce = excluded.nonce
	`, addr, nonce)
	if err != nil {
		return fmt.Errorf("failed to write nonce of %s: %w", addr, err)
	}
	return nil
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func parseBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
