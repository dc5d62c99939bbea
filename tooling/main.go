package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"waterstation-gateway/pkg/config"
	"waterstation-gateway/pkg/database"
	"waterstation-gateway/pkg/httpclient"
	"waterstation-gateway/pkg/logging"
	"waterstation-gateway/pkg/models"
	"waterstation-gateway/pkg/store"
	"waterstation-gateway/pkg/utils"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "tooling",
		Short:        "Operator tools for the water station gateway",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(resetDBCmd())
	rootCmd.AddCommand(simulatorCmd())
	rootCmd.AddCommand(transactionsCmd())
	rootCmd.AddCommand(commandsCmd())
	rootCmd.AddCommand(releaseCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	_, flush, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flush, nil
}

func resetDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resetdb",
		Short: "Drop and recreate the MySQL tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, flush, err := loadConfig()
			if err != nil {
				return err
			}
			defer flush()

			db, err := database.Open(cfg.DB)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.ResetTables(db); err != nil {
				return fmt.Errorf("failed to reset database: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database reset completed")
			return nil
		},
	}
}

type simulation struct {
	gatewayURL string
	sandboxURL string
	deliveries int
	client     *httpclient.Client
}

type iterationResult struct {
	kind    string
	message string
}

const (
	resultSuccess = "SUCCESS"
	resultTimeout = "TIMEOUT"
	resultFailed  = "FAILED"
)

func simulatorCmd() *cobra.Command {
	var (
		sim     simulation
		workers int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulator <count>",
		Short: "Create orders and let the sandbox deliver possibly duplicated paid notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil || count <= 0 {
				return fmt.Errorf("invalid count: %s", args[0])
			}
			if workers <= 0 {
				workers = 1
			}
			sim.client = httpclient.NewClient(timeout)
			return sim.run(cmd, count, workers)
		},
	}

	cmd.Flags().StringVar(&sim.gatewayURL, "gateway", "http://localhost:3000", "Gateway base URL")
	cmd.Flags().StringVar(&sim.sandboxURL, "sandbox", "http://localhost:8001", "Provider sandbox base URL")
	cmd.Flags().IntVar(&sim.deliveries, "deliveries", 0, "Deliveries per order (0 lets the sandbox decide)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Concurrent iterations")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-request timeout")
	return cmd
}

func (s *simulation) run(cmd *cobra.Command, count, workers int) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Starting simulation with %d iterations using %d goroutines\n", count, workers)

	jobs := make(chan int)
	results := make(chan iterationResult, count)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for iteration := range jobs {
				results <- s.iteration(cmd.Context(), iteration)
			}
		}()
	}

	go func() {
		for i := 1; i <= count; i++ {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	totals := map[string]int{}
	for r := range results {
		totals[r.kind]++
		fmt.Fprintln(out, r.message)
	}

	fmt.Fprintf(out, "\nSimulation completed. Success: %d, Timeouts: %d, Failed: %d\n",
		totals[resultSuccess], totals[resultTimeout], totals[resultFailed])
	return nil
}

func (s *simulation) iteration(ctx context.Context, iteration int) iterationResult {
	correlationID := utils.GenerateCorrelationID()
	logPrefix := logging.Prefix(correlationID)
	orderID := "ORD-" + correlationID + "-" + strconv.Itoa(iteration)
	amount := int64(1000 * (1 + iteration%5))

	invoice, err := s.createPayment(ctx, correlationID, orderID, amount)
	if err != nil {
		return iterationResult{resultFailed, fmt.Sprintf("Iteration %d [%s]: FAILED to create payment - %v", iteration, correlationID, err)}
	}
	slog.Info(logPrefix+"Payment created for simulation", "iteration", iteration, "order_id", orderID, "simulated", invoice.Simulated)

	time.Sleep(100 * time.Millisecond)

	var lastErr error
	for retry := 0; retry < 3; retry++ {
		if retry > 0 {
			time.Sleep(100 * time.Millisecond)
		}

		resp, err := s.simulatePaid(ctx, correlationID, orderID, amount)
		if err == nil {
			return iterationResult{resultSuccess, fmt.Sprintf("Iteration %d [%s]: SUCCESS - Order: %s, Amount: %d, Deliveries: %d, Accepted: %d",
				iteration, correlationID, orderID, amount, resp.Deliveries, resp.Accepted)}
		}
		lastErr = err
		if !s.client.IsTimeoutError(err) {
			break
		}
	}

	if s.client.IsTimeoutError(lastErr) {
		return iterationResult{resultTimeout, fmt.Sprintf("Iteration %d [%s]: TIMEOUT after 3 retries - Order: %s", iteration, correlationID, orderID)}
	}
	return iterationResult{resultFailed, fmt.Sprintf("Iteration %d [%s]: FAILED payment - %v", iteration, correlationID, lastErr)}
}

func (s *simulation) createPayment(ctx context.Context, correlationID, orderID string, amount int64) (*models.CreatePaymentResponse, error) {
	volume := 250.0
	resp, err := s.client.PostJSON(ctx, s.gatewayURL+"/create-payment", models.CreatePaymentRequest{
		OrderID: orderID,
		Amount:  &amount,
		Volume:  &volume,
	}, httpclient.WithHeader(utils.CorrelationHeader, correlationID))
	if err != nil {
		return nil, err
	}
	if err := httpclient.ExpectStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var out models.CreatePaymentResponse
	if err := s.client.DecodeJSONResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *simulation) simulatePaid(ctx context.Context, correlationID, orderID string, amount int64) (*models.SimulatePaidResponse, error) {
	resp, err := s.client.PostJSON(ctx, s.sandboxURL+"/simulate-paid", models.SimulatePaidRequest{
		OrderID:       orderID,
		Amount:        amount,
		Deliveries:    s.deliveries,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	if err := httpclient.ExpectStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var out models.SimulatePaidResponse
	if err := s.client.DecodeJSONResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func transactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transactions <orderId...>",
		Short: "Print stored orders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				printTransactions(ctx, cmd, st, args)
				return nil
			})
		},
	}
}

func commandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands <orderId...>",
		Short: "Print the device command audit log",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				printCommands(ctx, cmd, st, args)
				return nil
			})
		},
	}
}

func releaseCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "release <orderId>",
		Short: "Clear the dispatch claim of an order whose command slot write was never confirmed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				return releaseDispatch(ctx, cmd, st, cfg.DeviceID, args[0], force)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Release even if the device slot holds this order's command")
	return cmd
}

// releaseDispatch refuses when the device slot already holds the order's
// command, since re-driving it would fill twice.
func releaseDispatch(ctx context.Context, cmd *cobra.Command, st store.Store, deviceID, orderID string, force bool) error {
	o, err := st.GetTransaction(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to read order %s: %w", orderID, err)
	}
	if !o.Dispatched {
		fmt.Fprintf(cmd.OutOrStdout(), "Order %s is not dispatched, nothing to release\n", orderID)
		return nil
	}

	state, err := st.GetDevice(ctx, deviceID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read device %s: %w", deviceID, err)
	}
	if !force && (state == nil || err != nil) {
		return fmt.Errorf("device %s state unknown, re-run with --force after checking the device", deviceID)
	}
	if !force && state.Command != nil && state.Command.OrderID == orderID {
		return fmt.Errorf("device %s slot holds order %s (status %s), refusing to release", deviceID, orderID, state.Command.Status)
	}

	if err := st.ReleaseDispatch(ctx, orderID); err != nil {
		return fmt.Errorf("failed to release order %s: %w", orderID, err)
	}
	slog.Warn("Dispatch claim released by operator", "order_id", orderID, "forced", force)
	fmt.Fprintf(cmd.OutOrStdout(), "Order %s released, the next paid notification will dispatch it\n", orderID)
	return nil
}

func withStore(fn func(ctx context.Context, cfg *config.Config, st store.Store) error) error {
	cfg, flush, err := loadConfig()
	if err != nil {
		return err
	}
	defer flush()

	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, cfg, st)
}

func printTransactions(ctx context.Context, cmd *cobra.Command, st store.TransactionStore, orderIDs []string) {
	tbl := newTable(cmd.OutOrStdout(), "Transactions").
		addColumn("Order ID", 30, alignLeft).
		addColumn("Amount", 9, alignRight).
		addColumn("Volume", 8, alignRight).
		addColumn("Status", 11, alignLeft).
		addColumn("Dispatched", 11, alignLeft).
		addColumn("Invoice", 24, alignLeft).
		addColumn("Updated At", 21, alignLeft)
	tbl.printHeader()

	found := 0
	var dispensed int64
	for _, id := range orderIDs {
		o, err := st.GetTransaction(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Error("Failed to read transaction", "order_id", id, "error", err)
			}
			continue
		}
		found++
		if o.Dispatched {
			dispensed += o.Amount
		}
		tbl.printRow(o.OrderID, o.Amount, o.Volume, o.PaymentStatus, o.Dispatched, o.InvoiceID, formatMillis(o.UpdatedAt))
	}
	if found == 0 {
		tbl.printEmptyRow("No transactions found")
	}
	tbl.printFooter()

	fmt.Fprintf(cmd.OutOrStdout(), "Total transactions: %d\n", found)
	fmt.Fprintln(cmd.OutOrStdout(), "Total dispensed amount: ", dispensed)
}

func printCommands(ctx context.Context, cmd *cobra.Command, st store.DeviceStore, orderIDs []string) {
	tbl := newTable(cmd.OutOrStdout(), "Device Command Audit").
		addColumn("Order ID", 30, alignLeft).
		addColumn("Device", 8, alignLeft).
		addColumn("Type", 12, alignLeft).
		addColumn("Volume", 8, alignRight).
		addColumn("Amount", 9, alignRight).
		addColumn("Status", 11, alignLeft).
		addColumn("Created At", 26, alignLeft)
	tbl.printHeader()

	found := 0
	for _, id := range orderIDs {
		c, err := st.GetCommandLog(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Error("Failed to read command log", "order_id", id, "error", err)
			}
			continue
		}
		found++
		tbl.printRow(c.OrderID, c.DeviceID, c.Type, c.Volume, c.Amount, c.Status, c.CreatedAt)
	}
	if found == 0 {
		tbl.printEmptyRow("No commands dispatched")
	}
	tbl.printFooter()

	fmt.Fprintf(cmd.OutOrStdout(), "Total commands: %d\n", found)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).In(jakartaLocation()).Format("2006-01-02 15:04:05")
}

func jakartaLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		loc = time.FixedZone("Asia/Jakarta", 7*60*60)
	}
	return loc
}
