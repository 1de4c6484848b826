package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/auth"
	"github.com/tradewire/relay/internal/conditional"
	"github.com/tradewire/relay/internal/config"
	"github.com/tradewire/relay/internal/exchange"
	"github.com/tradewire/relay/internal/intake"
	"github.com/tradewire/relay/internal/ledger"
	"github.com/tradewire/relay/internal/locker"
	"github.com/tradewire/relay/internal/timedlist"
	"github.com/tradewire/relay/internal/types"
)

const (
	minSignals    = 15
	maxSignals    = 60
	numWorkers    = 5
	maxPolls      = 50
	serverAddress = "http://localhost:8080"
)

var (
	symbols    = []string{"BTC/USD", "ETH/USD", "EUR/USD", "GBP/USD"}
	directions = []string{types.DirectionLong, types.DirectionShort}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the intake API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient(cfg *config.Config) (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":   {name: "Authentication"},
			"submit": {name: "Submit Signal"},
		},
	}

	// Get auth token
	token, err := sc.authenticate(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(cfg *config.Config) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"identity_key":    cfg.IdentityKey,
		"identity_secret": cfg.IdentitySecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		return "", err
	}

	return result.Token, nil
}

// submitSignal posts an order signal with its entry fill to the API
// Returns the queue record key on success
func (sc *simulationClient) submitSignal(order *types.Order, fill *types.OrderDetail) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["submit"].addDuration(time.Since(start))
	}()

	payload := struct {
		Order    types.Order        `json:"Order"`
		Response *types.OrderDetail `json:"Response"`
	}{Order: *order, Response: fill}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Submit signal response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("submit failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                     `json:"success"`
		Data    conditional.PendingOrder `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.Key == "" {
		return "", fmt.Errorf("no record key in response: %s", string(respBody))
	}

	return result.Data.Key, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the relay simulation
// It starts an in-process lock server and intake API, submits random
// conditional signals, then walks quotes until every trigger resolves
func main() {
	workDir, err := os.MkdirTemp("", "relay-sim-")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create working directory")
	}
	defer os.RemoveAll(workDir)

	// The whole simulation runs out of one scratch directory against an
	// in-process lock server on an ephemeral port.
	os.Setenv("DATA_DIRECTORY", workDir)
	os.Setenv("LEDGER_DIRECTORY", filepath.Join(workDir, "ledger"))
	os.Setenv("LOCK_HOST", "127.0.0.1")

	lockPort, err := startLockServer(filepath.Join(workDir, "locker.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start lock server")
	}
	os.Setenv("LOCK_PORT", strconv.Itoa(lockPort))

	cfg := config.Load()
	if err := os.MkdirAll(cfg.LedgerDirectory, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger directory")
	}

	venue := exchange.NewMock("mimic")
	venue.DataDir = workDir
	venue.MinLatency = 1
	venue.MaxLatency = 10
	for _, symbol := range symbols {
		mid := 100 + rand.Float64()*50
		venue.SetTicker(symbol, mid-0.01, mid+0.01)
		base, _ := venue.BaseAsset(symbol)
		venue.SetBalance(base, 1e9)
	}

	// Start the intake server in a goroutine
	go func() {
		if err := startServer(cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of signals to process
	targetSignals := rand.Intn(maxSignals-minSignals) + minSignals
	log.Info().Int("target_signals", targetSignals).Msg("Starting simulation")

	// Channel to collect record keys
	keysChan := make(chan string, targetSignals)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			submitSignalsHTTP(workerID, targetSignals/numWorkers, simClient, venue, keysChan)
		}(i)
	}

	// Wait for all signals to be submitted
	wg.Wait()
	close(keysChan)

	var keys []string
	for key := range keysChan {
		keys = append(keys, key)
	}

	log.Info().Int("signals_submitted", len(keys)).Msg("All signals submitted")

	stats := struct {
		TotalSignals int
		Resolved     int
		LedgerLines  int
		Polls        int
		StartTime    time.Time
		Symbols      map[string]int
		Directions   map[string]int
	}{
		StartTime:  time.Now(),
		Symbols:    make(map[string]int),
		Directions: make(map[string]int),
	}
	stats.TotalSignals = len(keys)

	lockOpts := locker.Options{
		Host:    cfg.LockHost,
		Port:    cfg.LockPort,
		Retry:   cfg.LockRetry,
		Timeout: cfg.LockTimeout,
	}
	queue := conditional.NewFileQueue(cfg.DataDirectory, cfg.QueueName, lockOpts)
	books := ledger.NewWriter(venue, cfg.LedgerDirectory, lockOpts)
	engine := conditional.NewEngine(venue, books)

	// Poll the queue the way the monitor daemon does, nudging quotes
	// between passes so every trigger eventually fires.
	for poll := 0; poll < maxPolls; poll++ {
		records, err := queue.Read()
		if err != nil {
			log.Error().Err(err).Msg("Failed to read queue")
			break
		}
		if len(records) == 0 {
			break
		}
		stats.Polls++

		resolved := make(map[string]bool)
		for i := range records {
			rec := &records[i]
			if engine.Process(rec) == conditional.Delete {
				resolved[rec.Key] = true
				stats.Resolved++
				stats.Symbols[rec.Order.Asset]++
				stats.Directions[rec.Order.Direction]++
			}
		}
		if len(resolved) > 0 {
			if _, err := queue.RewriteWithout(resolved); err != nil {
				log.Error().Err(err).Msg("Failed to rewrite queue")
				break
			}
		}

		driftQuotes(venue)
	}

	stats.LedgerLines = countLedgerLines(cfg.LedgerDirectory)

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 RELAY SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Signal Statistics
------------------
Total Signals:    %d
Resolved:         %d
Ledger Entries:   %d
Poll Passes:      %d
Duration:         %v

📈 Symbol Distribution
--------------------
`, stats.TotalSignals, stats.Resolved, stats.LedgerLines, stats.Polls,
		duration.Round(time.Millisecond))

	// Print symbol distribution with simple ASCII bar chart
	maxSymbolCount := 0
	for _, count := range stats.Symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}

	for symbol, count := range stats.Symbols {
		barLength := int(float64(count) / float64(maxSymbolCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-8s: %s (%d)\n", symbol, bar, count)
	}

	fmt.Println("\n📉 Direction Distribution")
	fmt.Println("------------------")
	for direction, count := range stats.Directions {
		barLength := int(float64(count) / float64(stats.TotalSignals) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-5s: %s (%d)\n", direction, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Success rate calculation
	successRate := float64(stats.Resolved) / float64(stats.TotalSignals) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("total_signals", stats.TotalSignals).
		Int("resolved", stats.Resolved).
		Int("ledger_entries", stats.LedgerLines).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// submitSignalsHTTP generates and submits random conditional signals to the API
// Runs as a worker goroutine, sending accepted record keys to keysChan
func submitSignalsHTTP(workerID, numSignals int, simClient *simulationClient, venue *exchange.Mock, keysChan chan<- string) {
	for i := 0; i < numSignals; i++ {
		symbol := symbols[rand.Intn(len(symbols))]
		direction := directions[rand.Intn(len(directions))]
		ticker, err := venue.GetTicker(symbol)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("No quote for signal")
			continue
		}

		entry := ticker.Ask
		action := "buy"
		sellAction := "sell"
		if direction == types.DirectionShort {
			entry = ticker.Bid
			action = "sell"
			sellAction = "buy"
		}
		amount := float64(rand.Intn(100) + 1)

		order := &types.Order{
			Exchange:   "mimic",
			Account:    fmt.Sprintf("SIM_%d", workerID),
			Market:     "spot",
			Asset:      symbol,
			Action:     action,
			SellAction: sellAction,
			Direction:  direction,
			TakeProfit: "1%",
			StopLoss:   "2%",
			OrderType:  "market",
			Identity:   fmt.Sprintf("worker-%d", workerID),
		}
		fill := &types.OrderDetail{
			ID:       uuid.New().String(),
			Price:    strconv.FormatFloat(entry, 'f', -1, 64),
			Amount:   strconv.FormatFloat(amount, 'f', -1, 64),
			DateTime: time.Now().UTC().Format(types.FillTimeLayout),
		}

		key, err := simClient.submitSignal(order, fill)
		if err != nil {
			log.Error().Err(err).
				Str("worker_id", fmt.Sprintf("%d", workerID)).
				Str("symbol", symbol).
				Msg("Failed to submit signal")
			simClient.stats["submit"].failures++
			continue
		}

		keysChan <- key
		log.Info().
			Str("worker_id", fmt.Sprintf("%d", workerID)).
			Str("key", key).
			Str("symbol", symbol).
			Str("direction", direction).
			Float64("entry", entry).
			Float64("amount", amount).
			Msg("Signal submitted")

		// Random sleep between signals
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// driftQuotes applies a random walk to every symbol, wide enough to
// cross a 1% take-profit or 2% stop-loss within a few passes
func driftQuotes(venue *exchange.Mock) {
	for _, symbol := range symbols {
		ticker, err := venue.GetTicker(symbol)
		if err != nil {
			continue
		}
		mid := (ticker.Bid + ticker.Ask) / 2
		mid *= 1 + (rand.Float64()-0.5)*0.03
		venue.SetTicker(symbol, mid-0.01, mid+0.01)
	}
}

// countLedgerLines totals the entries across every ledger file written
// during the run
func countLedgerLines(dir string) int {
	total := 0
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ledger") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		total += len(strings.Split(strings.TrimSpace(string(raw)), "\n"))
	}
	return total
}

// startLockServer boots the lease endpoint on an ephemeral port and
// returns the port it bound
func startLockServer(storePath string) (int, error) {
	store, err := locker.OpenStore(storePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open lock store: %w", err)
	}
	srv := locker.NewServer(store)
	if err := srv.Listen("127.0.0.1", 0); err != nil {
		return 0, fmt.Errorf("failed to bind lock port: %w", err)
	}
	go func() {
		if err := srv.Serve(); err != nil {
			log.Error().Err(err).Msg("Lock server stopped")
		}
	}()
	return srv.Addr().(*net.TCPAddr).Port, nil
}

// startServer initializes and starts the intake API server
// Sets up all required services, handlers and routes
func startServer(cfg *config.Config) error {
	lockOpts := locker.Options{
		Host:    cfg.LockHost,
		Port:    cfg.LockPort,
		Retry:   cfg.LockRetry,
		Timeout: cfg.LockTimeout,
	}

	// Initialize services
	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterIdentity(cfg.IdentityKey, cfg.IdentitySecret)

	queue := conditional.NewFileQueue(cfg.DataDirectory, cfg.QueueName, lockOpts)
	dedupe := timedlist.New("Intake", filepath.Join(cfg.DataDirectory, "intake.dedupe"), 0, lockOpts)
	intakeService := intake.NewService(queue, dedupe)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	intakeHandlers := intake.NewGinHandlers(intakeService)

	// Setup routes
	setupRoutes(router, authHandlers, intakeHandlers)

	// Start the server
	return router.Run(":" + cfg.HTTPPort)
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality; the simulation skips the JWT
// middleware on the order route and injects the identity directly
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	intakeHandlers *intake.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(func(c *gin.Context) {
			c.Set("identity", "simulation")
			c.Next()
		})
		{
			orders.POST("", intakeHandlers.SubmitOrderHandler())
		}
	}
}
