package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/spend-runner/internal/discovery/dexscreener"
	runerr "github.com/ggonzalez94/spend-runner/internal/errors"
	"github.com/ggonzalez94/spend-runner/internal/permission"
	"github.com/ggonzalez94/spend-runner/internal/task"
	"github.com/ggonzalez94/spend-runner/internal/wallet"
)

// Store is the slice of the task store the engine writes through.
type Store interface {
	Claim(id string) (bool, error)
	Release(id string) error
	UpdateStatus(id string, status task.Status, log string) error
}

// Discovery fetches candidate trade targets for the configured network.
type Discovery interface {
	LatestForChain(ctx context.Context, chain string) ([]dexscreener.Asset, error)
}

// Ledger submits the permission-consuming contract calls.
type Ledger interface {
	Approve(ctx context.Context, perm *permission.SpendPermission) (string, error)
	Spend(ctx context.Context, perm *permission.SpendPermission, amount *big.Int) (string, error)
}

// Trader executes buy trades and proceeds transfers for the spender wallet.
type Trader interface {
	Trade(ctx context.Context, amountIn *big.Int, toToken common.Address) (wallet.TradeResult, error)
	Transfer(ctx context.Context, amount *big.Int, token, dest common.Address) (string, error)
}

// Session is the per-task execution capability: one wallet identity, one
// ledger binding, constructed fresh for each task and discarded after.
type Session struct {
	Ledger Ledger
	Trader Trader
}

// SessionFactory acquires a Session. Failure here means the task never
// started spending and stays retryable.
type SessionFactory func(ctx context.Context) (*Session, error)

type Options struct {
	// Chain is the discovery network identifier assets are filtered to.
	Chain string
	// SettleDelay separates the approve and spend submissions so the
	// approval is indexed before the dependent call reads it.
	SettleDelay time.Duration
	// TradeDelay optionally separates the spend from the first trade.
	TradeDelay time.Duration
	// MaxTradeTargets caps the allocation plan width.
	MaxTradeTargets int
}

func DefaultOptions() Options {
	return Options{
		Chain:           "base",
		SettleDelay:     10 * time.Second,
		TradeDelay:      10 * time.Second,
		MaxTradeTargets: MaxTradeTargets,
	}
}

// Engine drives a claimed task through the full spend-and-trade sequence.
// Execute never lets an error escape: failures become a terminal `failed`
// status with the error text appended to the accumulated log.
type Engine struct {
	store     Store
	discovery Discovery
	sessions  SessionFactory
	opts      Options
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration)
}

func New(store Store, discovery Discovery, sessions SessionFactory, opts Options, logger *slog.Logger) *Engine {
	if opts.MaxTradeTargets <= 0 {
		opts.MaxTradeTargets = MaxTradeTargets
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		discovery: discovery,
		sessions:  sessions,
		opts:      opts,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// recorder accumulates the append-only audit log and persists running status
// after every externally observable step.
type recorder struct {
	store  Store
	taskID string
	log    string
}

func (r *recorder) record(line string) error {
	r.log += line + "\n"
	return r.store.UpdateStatus(r.taskID, task.StatusRunning, r.log)
}

// Execute claims and runs one task. It returns true only on full success;
// false covers both benign aborts (task released back to pending) and
// recorded failures; callers inspect the persisted status, not just the
// return value.
func (e *Engine) Execute(ctx context.Context, t task.Task) bool {
	logger := e.logger.With("task_id", t.ID, "task_type", string(t.Type))

	claimed, err := e.store.Claim(t.ID)
	if err != nil {
		logger.Error("claim task", "err", err)
		return false
	}
	if !claimed {
		logger.Info("task already claimed, skipping")
		return false
	}

	rec := &recorder{store: e.store, taskID: t.ID}
	completed, err := e.run(ctx, t, rec, logger)
	if err != nil {
		// Terminal failure. Prior progress lines stay in place; the raw
		// error text is the operator's reconciliation record.
		rec.log += err.Error() + "\n"
		if uerr := e.store.UpdateStatus(t.ID, task.StatusFailed, rec.log); uerr != nil {
			logger.Error("persist failed status", "err", uerr)
		}
		logger.Error("task failed", "err", err)
		return false
	}
	if !completed {
		// Benign abort: nothing externally observable happened, so the
		// task goes back to pending for the next trigger run.
		if rerr := e.store.Release(t.ID); rerr != nil {
			logger.Error("release task", "err", rerr)
		}
		return false
	}
	if err := e.store.UpdateStatus(t.ID, task.StatusSuccess, rec.log); err != nil {
		logger.Error("persist success status", "err", err)
		return false
	}
	logger.Info("task completed")
	return true
}

// run performs the pipeline. Returns (false, nil) for benign aborts,
// (true, nil) on success, and a non-nil error for terminal failures.
func (e *Engine) run(ctx context.Context, t task.Task, rec *recorder, logger *slog.Logger) (bool, error) {
	if t.Type != task.KindSnipe {
		return false, runerr.New(runerr.CodeTask, fmt.Sprintf("unsupported task type %q", t.Type))
	}
	perm, err := permission.Decode(t.Payload)
	if err != nil {
		return false, err
	}

	session, err := e.sessions(ctx)
	if err != nil {
		// Deliberate fast-fail: better to abort silently than log a
		// false running state for a task that never started spending.
		logger.Warn("wallet session unavailable, aborting before any on-chain effect", "err", err)
		return false, nil
	}

	assets, err := e.discovery.LatestForChain(ctx, e.opts.Chain)
	if err != nil {
		return false, err
	}
	if len(assets) == 0 {
		logger.Info("no eligible assets discovered, leaving permission unspent")
		return false, nil
	}

	approveHash, err := session.Ledger.Approve(ctx, perm)
	if err != nil {
		return false, err
	}
	if err := rec.record("Approve hash: " + approveHash); err != nil {
		return false, err
	}

	e.sleep(ctx, e.opts.SettleDelay)

	allowance := perm.AllowanceAmount()
	spendHash, err := session.Ledger.Spend(ctx, perm, allowance)
	if err != nil {
		return false, err
	}
	if err := rec.record("Spend hash: " + spendHash); err != nil {
		return false, err
	}

	e.sleep(ctx, e.opts.TradeDelay)

	plan := SplitAllowance(allowance, assets, e.opts.MaxTradeTargets)
	for _, alloc := range plan {
		if err := e.executeTrade(ctx, session.Trader, perm, alloc, rec); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (e *Engine) executeTrade(ctx context.Context, trader Trader, perm *permission.SpendPermission, alloc Allocation, rec *recorder) error {
	token := common.HexToAddress(alloc.Asset.Address)
	result, err := trader.Trade(ctx, alloc.Amount, token)
	if err != nil {
		return err
	}
	if err := rec.record(fmt.Sprintf("Buying %s with %s: %s", alloc.Asset.Symbol, alloc.Amount, result.TxHash)); err != nil {
		return err
	}

	// Routers round the reported output against fee units; shave one unit
	// so the transfer never exceeds the actually held balance.
	received := new(big.Int).Sub(result.AmountOut, big.NewInt(1))
	if received.Sign() <= 0 {
		return runerr.New(runerr.CodeOnChain, fmt.Sprintf("trade into %s produced no usable output", alloc.Asset.Symbol))
	}
	if err := rec.record(fmt.Sprintf("Trade completed, received %s %s", received, alloc.Asset.Symbol)); err != nil {
		return err
	}

	transferHash, err := trader.Transfer(ctx, received, token, common.HexToAddress(perm.Account))
	if err != nil {
		return err
	}
	if err := rec.record(fmt.Sprintf("Transfer hash: %s", transferHash)); err != nil {
		return err
	}
	return rec.record(fmt.Sprintf("Transfer of %s %s completed", received, alloc.Asset.Symbol))
}
