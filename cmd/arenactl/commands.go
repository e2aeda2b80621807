package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/saga"
	"github.com/aristath/arena/internal/session"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	var chainID uint64
	cmd := &cobra.Command{
		Use:   "connect <seed>",
		Short: "Connect a development wallet derived from seed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info session.Info
			err := newAPI().do(cmd.Context(), http.MethodPost, "/api/session/connect", map[string]interface{}{
				"seed":     args[0],
				"chain_id": chainID,
			}, &info)
			if err != nil {
				return err
			}
			fmt.Printf("Connected %s on chain %d\n", info.Address, info.ChainID)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&chainID, "chain-id", defaultChainID, "chain id the wallet signs for")
	return cmd
}

func newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the connected wallet session",
		RunE: func(cmd *cobra.Command, args []string) error {
			var info session.Info
			if err := newAPI().do(cmd.Context(), http.MethodGet, "/api/session", nil, &info); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Address\t%s\n", info.Address)
			fmt.Fprintf(w, "Chain\t%d\n", info.ChainID)
			fmt.Fprintf(w, "Connected\t%s\n", info.ConnectedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Wallet busy\t%t\n", info.WalletBusy)
			fmt.Fprintf(w, "Tracked executions\t%d\n", info.Tracked)
			return w.Flush()
		},
	}
}

type runFlags struct {
	provider   string
	amount     string
	risk       string
	strategy   string
	stopLoss   float64
	takeProfit float64
	slippage   float64
	stream     bool
	detach     bool
	poll       time.Duration
}

func newRunCmd() *cobra.Command {
	var f runFlags
	defaults := domain.DefaultStrategyConfig()

	cmd := &cobra.Command{
		Use:   "run <agent-id>",
		Short: "Execute a strategy for an agent and follow it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var agentID uint64
			if _, err := fmt.Sscan(args[0], &agentID); err != nil {
				return fmt.Errorf("invalid agent id %q", args[0])
			}
			amount, err := domain.ParseAmount(f.amount)
			if err != nil {
				return err
			}

			body := map[string]interface{}{
				"agent_id": agentID,
				"provider": f.provider,
				"stream":   f.stream,
				"config": domain.StrategyConfig{
					Amount:             amount,
					RiskLevel:          domain.RiskLevel(f.risk),
					StrategyType:       domain.StrategyType(f.strategy),
					StopLossPercent:    f.stopLoss,
					TakeProfitPercent:  f.takeProfit,
					MaxSlippagePercent: f.slippage,
				},
			}

			api := newAPI()
			var run saga.Run
			if err := api.do(cmd.Context(), http.MethodPost, "/api/runs", body, &run); err != nil {
				return err
			}
			fmt.Printf("Run %s submitted\n", run.ID)
			if f.detach {
				return nil
			}
			final, err := followRun(cmd.Context(), api, run.ID, f.poll, func(step saga.Step) {
				fmt.Printf("  %s\n", step)
			})
			if err != nil {
				return err
			}
			return printOutcome(final)
		},
	}

	cmd.Flags().StringVar(&f.provider, "provider", "", "inference provider address (default: first listed)")
	cmd.Flags().StringVar(&f.amount, "amount", defaults.Amount.String(), "amount to commit")
	cmd.Flags().StringVar(&f.risk, "risk", string(defaults.RiskLevel), "risk level: low, medium or high")
	cmd.Flags().StringVar(&f.strategy, "strategy", string(defaults.StrategyType), "strategy type")
	cmd.Flags().Float64Var(&f.stopLoss, "stop-loss", defaults.StopLossPercent, "stop loss percent")
	cmd.Flags().Float64Var(&f.takeProfit, "take-profit", defaults.TakeProfitPercent, "take profit percent")
	cmd.Flags().Float64Var(&f.slippage, "slippage", defaults.MaxSlippagePercent, "max slippage percent")
	cmd.Flags().BoolVar(&f.stream, "stream", true, "stream inference output")
	cmd.Flags().BoolVar(&f.detach, "detach", false, "return after submitting")
	cmd.Flags().DurationVar(&f.poll, "poll", 500*time.Millisecond, "status poll interval")
	return cmd
}

// followRun polls the run until it is terminal, reporting each new step
func followRun(ctx context.Context, api *apiClient, id string, interval time.Duration, onStep func(saga.Step)) (*saga.Run, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last saga.Step
	for {
		var run saga.Run
		if err := api.do(ctx, http.MethodGet, "/api/runs/"+id, nil, &run); err != nil {
			return nil, err
		}
		if run.Step != last {
			onStep(run.Step)
			last = run.Step
		}
		if run.Step.Terminal() {
			return &run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printOutcome(run *saga.Run) error {
	if run.Step == saga.StepFailed && run.Failure != nil {
		msg := fmt.Sprintf("run failed at %s: %s", run.Failure.Step, run.Failure.Message)
		if run.MayStillLand {
			msg += " (the execution may still land on chain)"
		}
		return errors.New(msg)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if run.Storage != nil {
		fmt.Fprintf(w, "Storage root\t%s\n", run.Storage.RootHash)
	}
	if run.Execution != nil {
		fmt.Fprintf(w, "Execution\t%d\n", run.Execution.ExecutionID)
	}
	if run.TxHash != "" {
		fmt.Fprintf(w, "Tx\t%s\n", run.TxHash)
	}
	if run.VerificationWarning {
		fmt.Fprintf(w, "Verification\tTEE attestation could not be confirmed\n")
	}
	return w.Flush()
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Request cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPI().do(cmd.Context(), http.MethodPost, "/api/runs/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Println("Cancellation requested")
			return nil
		},
	}
}

func newLeaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the top agents by total PnL",
		RunE: func(cmd *cobra.Command, args []string) error {
			var board []domain.AgentStats
			if err := newAPI().do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/leaderboard?limit=%d", limit), nil, &board); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tAGENT\tNAME\tPNL\tWIN RATE\tTRADES\tSHARPE")
			for i, s := range board {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s%%\t%d\t%s\n",
					i+1, s.AgentID, s.Name,
					domain.FromWei(s.TotalPnL).StringFixed(4),
					decimal.New(int64(s.WinRate), -2).StringFixed(2),
					s.TotalTrades,
					decimal.New(s.SharpeRatio, -2).StringFixed(2))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of agents")
	return cmd
}

func newExecutionsCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List strategy executions of a user (default: connected wallet)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/executions"
			if user != "" {
				path += "?user=" + user
			}
			var execs []domain.ExecutionRecord
			if err := newAPI().do(cmd.Context(), http.MethodGet, path, nil, &execs); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAGENT\tAMOUNT\tPNL\tSTATUS\tTIME")
			for _, e := range execs {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
					e.ExecutionID, e.AgentID,
					domain.FromWei(e.Amount).String(),
					domain.FromWei(e.PnL).StringFixed(4),
					e.Status,
					e.Timestamp.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user address")
	return cmd
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show wallet and arena balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			var bal struct {
				Address       string `json:"address"`
				WalletBalance string `json:"wallet_balance"`
				ArenaBalance  string `json:"arena_balance"`
			}
			if err := newAPI().do(cmd.Context(), http.MethodGet, "/api/balance", nil, &bal); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Address\t%s\n", bal.Address)
			fmt.Fprintf(w, "Wallet\t%s\n", bal.WalletBalance)
			fmt.Fprintf(w, "Arena\t%s\n", bal.ArenaBalance)
			return w.Flush()
		},
	}
}
