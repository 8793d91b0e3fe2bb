// Package main is the CLI entry point for rampart.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rampartlabs/rampart/internal/archive"
	"github.com/rampartlabs/rampart/internal/audit"
	"github.com/rampartlabs/rampart/internal/backend"
	"github.com/rampartlabs/rampart/internal/cache"
	"github.com/rampartlabs/rampart/internal/config"
	"github.com/rampartlabs/rampart/internal/domain"
	"github.com/rampartlabs/rampart/internal/hostinfo"
	"github.com/rampartlabs/rampart/internal/repo"
	"github.com/rampartlabs/rampart/internal/rulegen"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rampart",
	Short: "Application-control policy manager",
	Long: `rampart manages application-control policy through the local
rampart-agent: browse the machine inventory and directory users,
generate publisher, path, and hash rules, submit them to the policy
store, and keep an audited trail in an encrypted local archive.

Reads keep working when the agent is down by substituting neutral
fallbacks; anything that changes policy fails loudly instead.`,
	Version:      Version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check agent connectivity and policy counts",
	Long: `Shows who is operating the tool, whether the agent connection is up,
and the current inventory and rule counts. The count queries ride one
coalesced scheduler flush.`,
	RunE: runStatus,
}

var versionJSON bool

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	if versionJSON {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("rampart %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// app is the wired object graph behind every command.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	info      hostinfo.Info
	transport *backend.WSTransport
	client    *backend.Client
	scheduler *backend.Scheduler
	ledger    *audit.Ledger
	store     *archive.Store
	machines  *repo.Machines
	rules     *repo.Rules
	users     *repo.Users
	evidence  *repo.EvidenceRecords
	generator *rulegen.Generator

	unsubscribe []func()
}

// newApp loads configuration and wires the graph: logger, encrypted
// archive, audit ledger, transport, call client, scheduler, caches,
// repositories, generator. An unreachable agent is not fatal; reads
// degrade to fallbacks and writes fail loudly.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := createLogger(cfg.LogLevel)

	info := hostinfo.Resolve(logger)
	ledger := audit.NewLedger(audit.Config{Capacity: cfg.AuditCapacity}, info.Actor, info.Host, logger)

	key, err := archive.EnsureKey(archive.NewFileKey(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("prepare archive key: %w", err)
	}
	store, err := archive.Open(cfg.DataDir, key)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	ledger.SetArchiveSink(store)

	transport := backend.NewWSTransport(backend.DefaultWSConfig(cfg.BackendURL), logger)
	if err := transport.Connect(ctx); err != nil {
		logger.Warn("agent unreachable, running degraded", zap.Error(err))
	}

	client := backend.NewClient(transport, backend.ClientConfig{
		ShortDeadline: cfg.CallTimeout,
		LongDeadline:  cfg.LongTimeout,
	}, logger)
	scheduler := backend.NewScheduler(client, backend.SchedulerConfig{
		Window:   cfg.BatchWindow,
		MaxQueue: cfg.BatchMax,
	}, logger)

	cacheCfg := cache.Config{DefaultTTL: cfg.CacheTTL}
	machineCache := cache.New[[]domain.Machine](cacheCfg, logger)
	rulesCache := cache.New[[]domain.PolicyRule](cacheCfg, logger)
	userCache := cache.New[[]domain.DirectoryUser](cacheCfg, logger)
	evidenceCache := cache.New[[]domain.Evidence](cacheCfg, logger)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		info:      info,
		transport: transport,
		client:    client,
		scheduler: scheduler,
		ledger:    ledger,
		store:     store,
		machines:  repo.NewMachines(client, machineCache, logger),
		rules:     repo.NewRules(client, rulesCache, logger),
		users:     repo.NewUsers(client, userCache, logger),
		evidence:  repo.NewEvidenceRecords(client, evidenceCache, logger),
		generator: rulegen.NewGenerator(rulegen.Config{}, client, ledger, rulesCache, logger),
	}

	// Agent pushes invalidate the affected collection so the next read
	// refetches instead of serving stale state.
	a.unsubscribe = append(a.unsubscribe,
		transport.Subscribe("policy:changed", func(json.RawMessage) {
			rulesCache.Delete(backend.ChannelGetRules)
		}),
		transport.Subscribe("inventory:changed", func(json.RawMessage) {
			machineCache.Delete(backend.ChannelGetMachines)
		}),
	)
	return a, nil
}

// Close tears the graph down in dependency order.
func (a *app) Close() {
	for _, cancel := range a.unsubscribe {
		cancel()
	}
	a.scheduler.Close()
	if err := a.transport.Close(); err != nil {
		a.logger.Debug("transport close", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("archive close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println("\n=== Rampart Status ===")
	fmt.Printf("Operator: %s@%s (%s)\n", a.info.Actor, a.info.Host, a.info.Platform)
	fmt.Printf("Agent: %s\n", a.cfg.BackendURL)
	if a.transport.Available() {
		fmt.Println("Connection: up")
	} else {
		fmt.Println("Connection: down (reads fall back, writes fail)")
	}
	fmt.Printf("Archive: %s\n", a.store.Path())

	// One burst through the scheduler: agent state plus the collection
	// sizes ride a single flush window.
	statusPending := a.scheduler.Enqueue("system:getStatus")
	machinesPending := a.scheduler.Enqueue(backend.ChannelGetMachines)
	rulesPending := a.scheduler.Enqueue(backend.ChannelGetRules)

	res, err := statusPending.Await(ctx)
	switch {
	case err != nil:
		fmt.Printf("Agent state: error (%v)\n", err)
	default:
		var st domain.OperationStatus
		if derr := res.Decode(&st); derr == nil && st.State != "" {
			fmt.Printf("Agent state: %s%s\n", st.State, degradedSuffix(res))
		} else {
			fmt.Printf("Agent state: unknown%s\n", degradedSuffix(res))
		}
	}
	fmt.Printf("Machines: %s\n", countFrom[domain.Machine](ctx, machinesPending))
	fmt.Printf("Rules: %s\n", countFrom[domain.PolicyRule](ctx, rulesPending))
	fmt.Println("======================")
	return nil
}

func degradedSuffix(res backend.Result) string {
	if res.Fallback {
		return fmt.Sprintf(" (fallback: %s)", res.Reason)
	}
	return ""
}

// countFrom resolves a scheduled collection fetch to a display count.
func countFrom[T any](ctx context.Context, p *backend.Pending) string {
	res, err := p.Await(ctx)
	if err != nil || res.Fallback {
		return "unavailable"
	}
	var items []T
	if err := res.Decode(&items); err != nil {
		return "unavailable"
	}
	return strconv.Itoa(len(items))
}

func createLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(lvl)
	logCfg.Encoding = "console"
	logCfg.OutputPaths = []string{"stderr"}
	logCfg.ErrorOutputPaths = []string{"stderr"}
	logCfg.EncoderConfig.TimeKey = "time"
	logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := logCfg.Build()
	if err != nil {
		// Fallback if the console encoder cannot be built
		logger, _ = zap.NewProduction()
	}
	return logger
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// readItemsFile parses a JSON array of rule subjects. A top-level null
// or non-array value surfaces downstream as the batch input error.
func readItemsFile(path string) ([]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items file: %w", err)
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse items file %s: %w", path, err)
	}
	return items, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
