package devchain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/database"
	"github.com/aristath/arena/internal/domain"
	arenatest "github.com/aristath/arena/internal/testing"
	"github.com/aristath/arena/internal/wallet"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = 16602

func setupChain(t *testing.T, settleAfter uint64) *Chain {
	t.Helper()
	db := arenatest.NewTestDB(t, database.NameChain)
	return New(db, Options{ChainID: testChainID, SettleAfterBlocks: settleAfter}, zerolog.Nop())
}

// startMining mines in the background until the test ends
func startMining(t *testing.T, c *Chain) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, 5*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newClient(c *Chain, signer *wallet.DevSigner) *arena.Client {
	return arena.NewClient(c, signer, wallet.NewGuard(), arena.Options{
		PollInterval:    2 * time.Millisecond,
		MaxPollInterval: 20 * time.Millisecond,
	}, zerolog.Nop())
}

func wei(units int64) *big.Int {
	return domain.ToWei(decimal.NewFromInt(units))
}

func signed(t *testing.T, signer *wallet.DevSigner, tx *domain.Transaction) *domain.Transaction {
	t.Helper()
	sig, err := signer.SignTransaction(context.Background(), tx)
	require.NoError(t, err)
	tx.Signature = sig
	return tx
}

func TestChain_ExecuteAndAutoSettle(t *testing.T) {
	chain := setupChain(t, 2)
	startMining(t, chain)
	ctx := context.Background()

	owner := wallet.NewDevSigner("agent-owner", testChainID)
	user := wallet.NewDevSigner("trader", testChainID)
	require.NoError(t, chain.Fund(ctx, user.Address(), wei(5000)))

	ownerClient := newClient(chain, owner)
	agentID, _, err := ownerClient.RegisterAgent(ctx, arena.AgentParams{Name: "Momentum Bot", ModelProvider: "0xprovider"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), agentID)

	userClient := newClient(chain, user)
	root := "0xabababababababababababababababababababababababababababababababab"

	receipt, err := userClient.ExecuteStrategy(ctx, arena.ExecuteParams{
		AgentID:         agentID,
		StrategyData:    "buy the dip",
		StorageRootHash: root,
		TEESignature:    "chat-1",
		Amount:          decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.ExecutionID)

	native, err := chain.NativeBalance(ctx, user.Address())
	require.NoError(t, err)
	assert.Equal(t, wei(4000), native)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rec, err := userClient.AwaitCompletion(waitCtx, receipt.ExecutionID)
	require.NoError(t, err)
	assert.True(t, rec.IsCompleted)
	assert.Equal(t, domain.ExecutionCompleted, rec.Status)
	assert.Equal(t, SimulatedPnL(1, root, wei(1000)), rec.PnL)
	assert.Equal(t, root, rec.StorageRootHash)
	assert.Equal(t, "chat-1", rec.TEESignature)

	pos, err := userClient.GetPosition(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Locked.Sign())
	assert.Equal(t, new(big.Int).Add(wei(1000), rec.PnL), pos.Deposited)

	agent, err := ownerClient.GetAgent(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), agent.TotalTrades)
	assert.Equal(t, rec.PnL, agent.TotalPnL)

	history, err := userClient.GetUserExecutions(ctx, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestChain_RevertRollsBackState(t *testing.T) {
	chain := setupChain(t, 0)
	startMining(t, chain)
	ctx := context.Background()

	owner := wallet.NewDevSigner("owner", testChainID)
	require.NoError(t, chain.Fund(ctx, owner.Address(), wei(100)))
	client := newClient(chain, owner)

	agentID, _, err := client.RegisterAgent(ctx, arena.AgentParams{Name: "Paused"})
	require.NoError(t, err)
	_, err = client.UpdateAgentStatus(ctx, agentID, false)
	require.NoError(t, err)

	_, err = client.ExecuteStrategy(ctx, arena.ExecuteParams{
		AgentID:         agentID,
		StorageRootHash: "0x01",
		Amount:          decimal.NewFromInt(50),
	})
	require.Error(t, err)
	assert.True(t, domain.IsReason(err, domain.ReasonContractRejected))
	assert.Contains(t, err.Error(), revertAgentInactive)

	native, err := chain.NativeBalance(ctx, owner.Address())
	require.NoError(t, err)
	assert.Equal(t, wei(100), native)

	pending, err := chain.PendingExecutions(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	active, err := client.GetActiveAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestChain_InsufficientFundsBeforeBroadcast(t *testing.T) {
	chain := setupChain(t, 0)
	ctx := context.Background()

	user := wallet.NewDevSigner("broke", testChainID)
	client := newClient(chain, user)

	_, err := client.DispatchExecution(ctx, arena.ExecuteParams{
		AgentID:         1,
		StorageRootHash: "0x01",
		Amount:          decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.True(t, domain.IsReason(err, domain.ReasonInsufficientFunds))

	nonce, err := chain.PendingNonce(ctx, user.Address())
	require.NoError(t, err)
	assert.Zero(t, nonce)
}

func TestChain_WithdrawBeyondAvailableReverts(t *testing.T) {
	chain := setupChain(t, 0)
	startMining(t, chain)
	ctx := context.Background()

	user := wallet.NewDevSigner("saver", testChainID)
	require.NoError(t, chain.Fund(ctx, user.Address(), wei(100)))
	client := newClient(chain, user)

	_, err := client.Deposit(ctx, decimal.NewFromInt(40))
	require.NoError(t, err)

	bal, err := client.BalanceOf(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, wei(40), bal)

	_, err = client.Withdraw(ctx, decimal.NewFromInt(41))
	require.Error(t, err)
	assert.True(t, domain.IsReason(err, domain.ReasonInsufficientFunds))

	_, err = client.Withdraw(ctx, decimal.NewFromInt(15))
	require.NoError(t, err)

	native, err := chain.NativeBalance(ctx, user.Address())
	require.NoError(t, err)
	assert.Equal(t, wei(75), native)
}

func TestChain_CompleteStrategyRequiresOwner(t *testing.T) {
	chain := setupChain(t, 0)
	startMining(t, chain)
	ctx := context.Background()

	owner := wallet.NewDevSigner("owner", testChainID)
	user := wallet.NewDevSigner("user", testChainID)
	require.NoError(t, chain.Fund(ctx, user.Address(), wei(100)))

	ownerClient := newClient(chain, owner)
	userClient := newClient(chain, user)

	agentID, _, err := ownerClient.RegisterAgent(ctx, arena.AgentParams{Name: "Owned"})
	require.NoError(t, err)
	receipt, err := userClient.ExecuteStrategy(ctx, arena.ExecuteParams{
		AgentID: agentID, StorageRootHash: "0x02", Amount: decimal.NewFromInt(20),
	})
	require.NoError(t, err)

	_, err = userClient.CompleteStrategy(ctx, receipt.ExecutionID, wei(5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), revertNotOwner)

	_, err = ownerClient.CompleteStrategy(ctx, receipt.ExecutionID, wei(-50))
	require.NoError(t, err)

	rec, err := chain.Execution(ctx, receipt.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, wei(-20), rec.PnL, "losses are capped at the stake")

	_, err = ownerClient.CompleteStrategy(ctx, receipt.ExecutionID, wei(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), revertAlreadyCompleted)
}

func TestChain_UserRejectedSignature(t *testing.T) {
	chain := setupChain(t, 0)
	ctx := context.Background()

	user := wallet.NewDevSigner("hesitant", testChainID)
	user.SetApproval(func(ctx context.Context, tx *domain.Transaction) bool { return false })
	client := newClient(chain, user)

	_, _, err := client.RegisterAgent(ctx, arena.AgentParams{Name: "Never"})
	require.Error(t, err)
	assert.True(t, domain.IsReason(err, domain.ReasonUserRejectedSignature))
}

func TestChain_SendTransactionValidation(t *testing.T) {
	chain := setupChain(t, 0)
	ctx := context.Background()
	signer := wallet.NewDevSigner("validator", testChainID)

	wrongChain := signed(t, signer, &domain.Transaction{
		From: signer.Address(), ChainID: 1, Method: domain.MethodRegisterAgent, Args: domain.CallArgs{Name: "x"},
	})
	_, err := chain.SendTransaction(ctx, wrongChain)
	assert.ErrorIs(t, err, arena.ErrWrongChain)

	forged := signed(t, signer, &domain.Transaction{
		From: signer.Address(), ChainID: testChainID, Method: domain.MethodRegisterAgent, Args: domain.CallArgs{Name: "x"},
	})
	forged.Args.Name = "tampered"
	_, err = chain.SendTransaction(ctx, forged)
	assert.ErrorIs(t, err, arena.ErrBadSignature)

	first := signed(t, signer, &domain.Transaction{
		From: signer.Address(), ChainID: testChainID, Method: domain.MethodRegisterAgent, Args: domain.CallArgs{Name: "one"},
	})
	_, err = chain.SendTransaction(ctx, first)
	require.NoError(t, err)

	dup := signed(t, signer, &domain.Transaction{
		From: signer.Address(), ChainID: testChainID, Method: domain.MethodRegisterAgent, Args: domain.CallArgs{Name: "two"},
	})
	_, err = chain.SendTransaction(ctx, dup)
	assert.ErrorIs(t, err, arena.ErrNonceTooLow)
}

func TestChain_NonceGapWaits(t *testing.T) {
	chain := setupChain(t, 0)
	ctx := context.Background()
	signer := wallet.NewDevSigner("gappy", testChainID)

	later := signed(t, signer, &domain.Transaction{
		From: signer.Address(), ChainID: testChainID, Nonce: 1, Method: domain.MethodRegisterAgent, Args: domain.CallArgs{Name: "second"},
	})
	laterHash, err := chain.SendTransaction(ctx, later)
	require.NoError(t, err)

	_, err = chain.Mine(ctx)
	require.NoError(t, err)
	_, err = chain.TransactionReceipt(ctx, laterHash)
	assert.ErrorIs(t, err, arena.ErrReceiptNotFound)

	earlier := signed(t, signer, &domain.Transaction{
		From: signer.Address(), ChainID: testChainID, Nonce: 0, Method: domain.MethodRegisterAgent, Args: domain.CallArgs{Name: "first"},
	})
	_, err = chain.SendTransaction(ctx, earlier)
	require.NoError(t, err)

	_, err = chain.Mine(ctx)
	require.NoError(t, err)

	receipt, err := chain.TransactionReceipt(ctx, laterHash)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSuccess, receipt.Status)

	agent, err := chain.Agent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", agent.Name)
}

func TestChain_LeaderboardRanksByPnL(t *testing.T) {
	chain := setupChain(t, 0)
	startMining(t, chain)
	ctx := context.Background()

	owner := wallet.NewDevSigner("owner", testChainID)
	user := wallet.NewDevSigner("user", testChainID)
	require.NoError(t, chain.Fund(ctx, user.Address(), wei(1000)))
	ownerClient := newClient(chain, owner)
	userClient := newClient(chain, user)

	loser, _, err := ownerClient.RegisterAgent(ctx, arena.AgentParams{Name: "Loser"})
	require.NoError(t, err)
	winner, _, err := ownerClient.RegisterAgent(ctx, arena.AgentParams{Name: "Winner"})
	require.NoError(t, err)

	settle := func(agentID uint64, pnl int64) {
		r, err := userClient.ExecuteStrategy(ctx, arena.ExecuteParams{AgentID: agentID, StorageRootHash: "0x03", Amount: decimal.NewFromInt(100)})
		require.NoError(t, err)
		_, err = ownerClient.CompleteStrategy(ctx, r.ExecutionID, wei(pnl))
		require.NoError(t, err)
	}
	settle(loser, -10)
	settle(winner, 10)
	settle(winner, 30)
	settle(winner, -5)

	board, err := userClient.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 2)

	assert.Equal(t, winner, board[0].AgentID)
	assert.Equal(t, wei(35), board[0].TotalPnL)
	assert.Equal(t, uint64(3), board[0].TotalTrades)
	assert.Equal(t, uint64(6666), board[0].WinRate)
	assert.Greater(t, board[0].SharpeRatio, int64(0))

	assert.Equal(t, loser, board[1].AgentID)
	assert.Equal(t, uint64(0), board[1].WinRate)
	assert.Equal(t, int64(0), board[1].SharpeRatio)
}

func TestChain_EventsAfterID(t *testing.T) {
	chain := setupChain(t, 0)
	startMining(t, chain)
	ctx := context.Background()

	user := wallet.NewDevSigner("evented", testChainID)
	require.NoError(t, chain.Fund(ctx, user.Address(), wei(10)))
	client := newClient(chain, user)

	_, _, err := client.RegisterAgent(ctx, arena.AgentParams{Name: "A"})
	require.NoError(t, err)
	_, err = client.Deposit(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	evs, err := client.Events(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.EventAgentRegistered, evs[0].Name)
	assert.Equal(t, domain.EventFundsDeposited, evs[1].Name)

	rest, err := client.Events(ctx, evs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, domain.EventFundsDeposited, rest[0].Name)
}

func TestSimulatedPnL(t *testing.T) {
	amount := wei(1000)
	for id := uint64(1); id <= 50; id++ {
		pnl := SimulatedPnL(id, "0xroot", amount)
		assert.Equal(t, pnl, SimulatedPnL(id, "0xroot", amount))

		lo := new(big.Int).Quo(new(big.Int).Mul(amount, big.NewInt(minOutcomeBps)), big.NewInt(10000))
		hi := new(big.Int).Quo(new(big.Int).Mul(amount, big.NewInt(maxOutcomeBps)), big.NewInt(10000))
		assert.True(t, pnl.Cmp(lo) >= 0 && pnl.Cmp(hi) <= 0, "pnl %s out of range", pnl)
	}
}
