package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/spend-runner/internal/config"
	"github.com/ggonzalez94/spend-runner/internal/discovery/dexscreener"
	"github.com/ggonzalez94/spend-runner/internal/engine"
	runerr "github.com/ggonzalez94/spend-runner/internal/errors"
	"github.com/ggonzalez94/spend-runner/internal/evm"
	"github.com/ggonzalez94/spend-runner/internal/httpx"
	"github.com/ggonzalez94/spend-runner/internal/ledger"
	"github.com/ggonzalez94/spend-runner/internal/out"
	"github.com/ggonzalez94/spend-runner/internal/permission"
	"github.com/ggonzalez94/spend-runner/internal/registry"
	"github.com/ggonzalez94/spend-runner/internal/server"
	"github.com/ggonzalez94/spend-runner/internal/signer"
	"github.com/ggonzalez94/spend-runner/internal/task"
	"github.com/ggonzalez94/spend-runner/internal/version"
	"github.com/ggonzalez94/spend-runner/internal/wallet"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	store       *task.Store
	logger      *slog.Logger
	root        *cobra.Command
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, logger: slog.Default()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if state.store != nil {
		_ = state.store.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError(err)
	return runerr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Deferred spend-permission execution runner",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return runerr.Wrap(runerr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.logger = buildLogger(s.runner.stderr, settings)

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path

			if shouldOpenStore(path) && s.store == nil {
				store, err := task.OpenStore(settings.TaskStorePath, settings.TaskLockPath)
				if err != nil {
					return runerr.Wrap(runerr.CodeInternal, "open task store", err)
				}
				s.store = store
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return runerr.Wrap(runerr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Chain, "chain", "", "Target network name")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC endpoint override")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Feed request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per feed request")
	cmd.PersistentFlags().StringVar(&s.flags.SettleDelay, "settle-delay", "", "Wait between approve and spend")
	cmd.PersistentFlags().StringVar(&s.flags.TradeDelay, "trade-delay", "", "Wait between spend and first trade")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newTriggerCommand())
	cmd.AddCommand(s.newRunCommand())
	cmd.AddCommand(s.newTaskCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task intake API and periodic trigger loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dispatcher, err := s.newDispatcher()
			if err != nil {
				return err
			}
			trigger := func(ctx context.Context) (int, error) {
				return dispatcher.RunPending(ctx, s.store)
			}

			go s.triggerLoop(ctx, trigger)

			srv := server.New(s.store, trigger, server.Options{
				ListenAddr: s.settings.ListenAddr,
				CronSecret: s.settings.CronSecret,
			}, s.logger)
			if err := srv.ListenAndServe(ctx); err != nil {
				return runerr.Wrap(runerr.CodeInternal, "run api server", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&s.flags.ListenAddr, "listen", "", "API listen address")
	cmd.Flags().StringVar(&s.flags.TriggerInterval, "trigger-interval", "", "Delay between automatic trigger runs")
	return cmd
}

func (s *runtimeState) triggerLoop(ctx context.Context, trigger server.TriggerFunc) {
	ticker := time.NewTicker(s.settings.TriggerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := trigger(ctx)
			if err != nil {
				s.logger.Error("trigger run", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Info("trigger run completed", "succeeded", n)
			}
		}
	}
}

func (s *runtimeState) newTriggerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Drain pending tasks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dispatcher, err := s.newDispatcher()
			if err != nil {
				return err
			}
			pending, err := s.store.ListPending()
			if err != nil {
				return runerr.Wrap(runerr.CodeInternal, "list pending tasks", err)
			}
			n, err := dispatcher.RunPending(ctx, s.store)
			if err != nil {
				return runerr.Wrap(runerr.CodeInternal, "run pending tasks", err)
			}
			return s.render(map[string]int{"pending": len(pending), "succeeded": n})
		},
	}
}

func (s *runtimeState) newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task-id>",
		Short: "Execute one task by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			t, err := s.store.Get(args[0])
			if err != nil {
				return runerr.Wrap(runerr.CodeTask, "load task", err)
			}
			dispatcher, err := s.newDispatcher()
			if err != nil {
				return err
			}
			dispatcher.Dispatch(ctx, t)

			// Outcome lives in the store regardless of how the run went.
			final, err := s.store.Get(t.ID)
			if err != nil {
				return runerr.Wrap(runerr.CodeInternal, "reload task", err)
			}
			return s.render(final)
		},
	}
}

func (s *runtimeState) newTaskCommand() *cobra.Command {
	root := &cobra.Command{Use: "task", Short: "Task store commands"}
	root.AddCommand(s.newTaskAddCommand())
	root.AddCommand(s.newTaskGetCommand())
	root.AddCommand(s.newTaskListCommand())
	return root
}

func (s *runtimeState) newTaskAddCommand() *cobra.Command {
	var (
		id          string
		kind        string
		payload     string
		payloadFile string
		userID      string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if payload != "" && payloadFile != "" {
				return runerr.New(runerr.CodeUsage, "use --payload or --payload-file, not both")
			}
			if payloadFile != "" {
				buf, err := os.ReadFile(payloadFile)
				if err != nil {
					return runerr.Wrap(runerr.CodeUsage, "read payload file", err)
				}
				payload = string(buf)
			}
			if strings.TrimSpace(payload) == "" {
				return runerr.New(runerr.CodeUsage, "payload is required")
			}
			k := task.Kind(kind)
			if k == task.KindSnipe {
				if _, err := permission.Decode(payload); err != nil {
					return err
				}
			}
			if strings.TrimSpace(id) == "" {
				id = uuid.NewString()
			}
			t := task.New(id, k, payload, userID)
			if err := s.store.Add(t); err != nil {
				return runerr.Wrap(runerr.CodeTask, "store task", err)
			}
			return s.render(t)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Task id (generated when omitted)")
	cmd.Flags().StringVar(&kind, "type", string(task.KindSnipe), "Task type")
	cmd.Flags().StringVar(&payload, "payload", "", "Signed spend permission JSON")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Read payload from file")
	cmd.Flags().StringVar(&userID, "user", "", "Requesting user id")
	return cmd
}

func (s *runtimeState) newTaskGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task with its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := s.store.Get(args[0])
			if err != nil {
				return runerr.Wrap(runerr.CodeTask, "load task", err)
			}
			return s.render(t)
		},
	}
}

func (s *runtimeState) newTaskListCommand() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := task.Status(strings.TrimSpace(status))
			switch st {
			case "", task.StatusPending, task.StatusRunning, task.StatusSuccess, task.StatusFailed:
			default:
				return runerr.New(runerr.CodeUsage, fmt.Sprintf("unknown status %q", status))
			}
			tasks, err := s.store.List(st, limit)
			if err != nil {
				return runerr.Wrap(runerr.CodeInternal, "list tasks", err)
			}
			return s.render(tasks)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

// newDispatcher wires the full execution path: feed client, per-task wallet
// sessions sharing one RPC submitter, and the kind-routing dispatcher.
func (s *runtimeState) newDispatcher() (*engine.Dispatcher, error) {
	chain, err := registry.ChainByName(s.settings.Chain)
	if err != nil {
		return nil, err
	}

	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries)
	feed := dexscreener.NewWithBaseURL(httpClient, s.settings.DiscoveryURL)

	submitOpts := evm.Options{
		PollInterval: s.settings.PollInterval,
		StepTimeout:  s.settings.StepTimeout,
	}
	sessions := func(ctx context.Context) (*engine.Session, error) {
		txSigner, err := signer.NewLocalSigner(signer.ConfigFromEnv())
		if err != nil {
			return nil, runerr.Wrap(runerr.CodeSigner, "initialize spender wallet", err)
		}
		rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, chain)
		if err != nil {
			return nil, err
		}
		submitter, err := evm.Dial(ctx, rpcURL, txSigner, submitOpts)
		if err != nil {
			return nil, err
		}
		trader, err := wallet.NewWithSubmitter(submitter, chain)
		if err != nil {
			return nil, err
		}
		return &engine.Session{Ledger: ledger.New(submitter), Trader: trader}, nil
	}

	eng := engine.New(s.store, feed, sessions, engine.Options{
		Chain:           s.settings.Chain,
		SettleDelay:     s.settings.SettleDelay,
		TradeDelay:      s.settings.TradeDelay,
		MaxTradeTargets: s.settings.MaxTradeTargets,
	}, s.logger)

	dispatcher := engine.NewDispatcher(s.logger)
	dispatcher.Register(task.KindSnipe, eng)
	return dispatcher, nil
}

func (s *runtimeState) render(data any) error {
	return out.Render(s.runner.stdout, data, s.settings.OutputMode)
}

type errorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *runtimeState) renderError(err error) {
	code := runerr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := runerr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		switch cErr.Code {
		case runerr.CodeUsage:
			typ = "usage_error"
		case runerr.CodeAuth:
			typ = "auth_error"
		case runerr.CodeRateLimited:
			typ = "rate_limited"
		case runerr.CodeUnavailable:
			typ = "feed_unavailable"
		case runerr.CodeUnsupported:
			typ = "unsupported"
		case runerr.CodeTask:
			typ = "task_error"
		case runerr.CodeSigner:
			typ = "signer_error"
		case runerr.CodeOnChain:
			typ = "onchain_error"
		case runerr.CodeTimeout:
			typ = "timeout"
		}
	}

	mode := s.settings.OutputMode
	if mode == "" {
		mode = "json"
	}
	body := map[string]any{
		"success": false,
		"error":   errorBody{Code: code, Type: typ, Message: message},
	}
	_ = out.Render(s.runner.stderr, body, mode)
}

func buildLogger(w io.Writer, settings config.Settings) *slog.Logger {
	level := slog.LevelInfo
	switch settings.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if settings.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func shouldOpenStore(path string) bool {
	if path == "serve" || path == "trigger" || strings.HasPrefix(path, "run") {
		return true
	}
	return strings.HasPrefix(path, "task")
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := runerr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return runerr.Wrap(runerr.CodeUsage, "invalid command input", err)
	}
	return runerr.Wrap(runerr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
