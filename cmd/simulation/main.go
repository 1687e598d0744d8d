package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var symbols = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META", "JPM", "XOM", "JNJ", "KO"}

// simConfig holds the command line flags
type simConfig struct {
	Addr        string
	APIKey      string
	APISecret   string
	Accounts    int
	Orders      int
	Workers     int
	AccountType string
	InitialCash string
	MaxPause    time.Duration
	Timeout     time.Duration
	Seed        int64
	Verbose     bool
}

var cfg simConfig

var rootCmd = &cobra.Command{
	Use:   "simulation",
	Short: "Drive load against a running paper trading server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if cfg.Verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open accounts, trade concurrently and report analytics",
	RunE:  runSimulation,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.Addr, "addr", "http://localhost:8080", "server base URL")
	pf.StringVar(&cfg.APIKey, "api-key", "test-api-key", "API key")
	pf.StringVar(&cfg.APISecret, "api-secret", "test-api-secret", "API secret")
	pf.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "HTTP client timeout")
	pf.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log every response")

	f := runCmd.Flags()
	f.IntVar(&cfg.Accounts, "accounts", 3, "number of accounts to open")
	f.IntVar(&cfg.Orders, "orders", 60, "total orders to submit")
	f.IntVar(&cfg.Workers, "workers", 5, "concurrent order workers")
	f.StringVar(&cfg.AccountType, "account-type", "paper", "account type: paper, cash, margin or ira")
	f.StringVar(&cfg.InitialCash, "initial-cash", "100000", "starting cash per account")
	f.DurationVar(&cfg.MaxPause, "max-pause", 200*time.Millisecond, "maximum random pause between orders")
	f.Int64Var(&cfg.Seed, "seed", 0, "random seed, 0 for time based")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// summary aggregates order outcomes across workers
type summary struct {
	mu         sync.Mutex
	submitted  int
	executed   int
	dayTrades  int
	notional   decimal.Decimal
	rejections map[string]int
	symbols    map[string]int
}

func (s *summary) recordTrade(t *tradeView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
	s.executed++
	s.symbols[t.Symbol]++
	if t.IsDayTrade {
		s.dayTrades++
	}
	if n, err := decimal.NewFromString(t.Notional); err == nil {
		s.notional = s.notional.Add(n)
	}
}

func (s *summary) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
	code := "TRANSPORT"
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}
	s.rejections[code]++
}

func runSimulation(cmd *cobra.Command, args []string) error {
	if cfg.Accounts <= 0 || cfg.Workers <= 0 {
		return fmt.Errorf("accounts and workers must be positive")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	sc := newSimulationClient(cfg.Addr, cfg.Timeout)
	if err := sc.authenticate(cfg.APIKey, cfg.APISecret); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	accountIDs := make([]string, 0, cfg.Accounts)
	for i := 0; i < cfg.Accounts; i++ {
		acct, err := sc.createAccount(cfg.AccountType, cfg.InitialCash)
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		accountIDs = append(accountIDs, acct.AccountID)
		log.Info().Str("account_id", acct.AccountID).Str("cash", acct.Cash).Msg("account opened")
	}

	log.Info().Int("orders", cfg.Orders).Int("workers", cfg.Workers).Int64("seed", seed).Msg("starting simulation")
	started := time.Now()
	sum := &summary{
		rejections: make(map[string]int),
		symbols:    make(map[string]int),
	}

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		n := cfg.Orders / cfg.Workers
		if w < cfg.Orders%cfg.Workers {
			n++
		}
		wg.Add(1)
		go func(workerID, numOrders int) {
			defer wg.Done()
			submitOrders(workerID, numOrders, rand.New(rand.NewSource(seed+int64(workerID))), sc, accountIDs, sum)
		}(w, n)
	}
	wg.Wait()
	elapsed := time.Since(started)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(out, "PAPER TRADING SIMULATION SUMMARY")
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintf(out, "Submitted:   %d\nExecuted:    %d\nDay trades:  %d\nNotional:    $%s\nDuration:    %v\n",
		sum.submitted, sum.executed, sum.dayTrades, sum.notional.StringFixed(2), elapsed.Round(time.Millisecond))

	if len(sum.rejections) > 0 {
		fmt.Fprintln(out, "\nRejections")
		for _, code := range sortedKeys(sum.rejections) {
			fmt.Fprintf(out, "  %-32s %d\n", code, sum.rejections[code])
		}
	}

	fmt.Fprintln(out, "\nSymbol Distribution")
	maxCount := 0
	for _, count := range sum.symbols {
		if count > maxCount {
			maxCount = count
		}
	}
	for _, symbol := range sortedKeys(sum.symbols) {
		count := sum.symbols[symbol]
		fmt.Fprintf(out, "%-6s: %s (%d)\n", symbol, strings.Repeat("#", count*20/maxCount), count)
	}

	fmt.Fprintln(out, "\nAccounts")
	for _, id := range accountIDs {
		reportAccount(out, sc, id)
	}

	sc.printPerformanceStats(out)
	return nil
}

// submitOrders sends random market orders, mostly buys so sells have
// inventory to draw from
func submitOrders(workerID, numOrders int, rng *rand.Rand, sc *simulationClient, accountIDs []string, sum *summary) {
	logger := log.With().Int("worker_id", workerID).Logger()
	for i := 0; i < numOrders; i++ {
		accountID := accountIDs[rng.Intn(len(accountIDs))]
		symbol := symbols[rng.Intn(len(symbols))]
		side := "buy"
		if rng.Float64() < 0.35 {
			side = "sell"
		}
		quantity := rng.Intn(20) + 1

		trade, err := sc.executeTrade(accountID, symbol, side, quantity)
		if err != nil {
			sum.recordFailure(err)
			logger.Warn().Err(err).
				Str("account_id", accountID).
				Str("symbol", symbol).
				Str("side", side).
				Int("quantity", quantity).
				Msg("order rejected")
		} else {
			sum.recordTrade(trade)
			logger.Info().
				Str("account_id", accountID).
				Str("trade_id", trade.TradeID).
				Str("symbol", trade.Symbol).
				Str("side", trade.Side).
				Str("quantity", trade.Quantity).
				Str("price", trade.Price).
				Bool("day_trade", trade.IsDayTrade).
				Msg("trade executed")
		}

		if cfg.MaxPause > 0 {
			time.Sleep(time.Duration(rng.Int63n(int64(cfg.MaxPause))))
		}
	}
}

func reportAccount(out io.Writer, sc *simulationClient, accountID string) {
	acct, err := sc.getAccount(accountID)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to load account")
		return
	}
	fmt.Fprintf(out, "%s  value=%s cash=%s realized=%s unrealized=%s day_trades=%d\n",
		acct.AccountID, acct.TotalValue, acct.Cash, acct.RealizedPnL, acct.UnrealizedPnL, acct.DayTradeCount)

	if perf, err := sc.getPerformance(accountID); err == nil {
		fmt.Fprintf(out, "  return=%.4f volatility=%.4f sharpe=%.2f max_drawdown=%.4f\n",
			perf.Stats.PeriodReturn, perf.Stats.Volatility, perf.Stats.SharpeRatio, perf.Stats.MaxDrawdown)
	} else {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to load performance")
	}

	if a, err := sc.getAnalytics(accountID); err == nil {
		fmt.Fprintf(out, "  concentration=%.4f suggestions=%d\n", a.ConcentrationRisk, len(a.RebalancingSuggestions))
	} else {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to load analytics")
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
