package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

type loadMode string

const (
	modePlace       loadMode = "place"
	modePlaceReplay loadMode = "place-replay"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	stock       int
	quantity    int
	price       decimal.Decimal
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type stockReport struct {
	ProductID  string `json:"product_id"`
	Initial    int    `json:"initial"`
	Placed     int64  `json:"placed"`
	Remaining  int    `json:"remaining"`
	Expected   int    `json:"expected"`
	Consistent bool   `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             *stockReport            `json:"stock,omitempty"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов. Отказ по остатку (409) считается ожидаемым исходом гонки.
func (c *collector) record(method string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if expectedStatus(status) {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[statusLabel(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}
	return stats.report(), true
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}
	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue, timeoutValue, durationValue, priceValue string

	flag.StringVar(&cfg.addr, "addr", "http://localhost:8080", "storefront HTTP base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modePlace), "load mode: place | place-replay")
	flag.IntVar(&cfg.stock, "stock", 100, "initial stock of the contended product")
	flag.IntVar(&cfg.quantity, "quantity", 1, "quantity per order line")
	flag.StringVar(&priceValue, "price", "9.99", "price of the contended product")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer email prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")
	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.price.IsNegative():
		return cfg, errors.New("price must be >= 0")
	case cfg.addr == "":
		return cfg, errors.New("addr is required")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modePlace:
		return modePlace, nil
	case modePlaceReplay:
		return modePlaceReplay, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// client оборачивает HTTP API витрины.
type client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func newClient(cfg config) *client {
	return &client{
		baseURL: cfg.addr,
		http: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency * 2,
			MaxIdleConnsPerHost: cfg.concurrency * 2,
		}},
		timeout: cfg.timeout,
	}
}

// do выполняет запрос и декодирует тело в out при успешном статусе.
func (c *client) do(method, path string, body any, headers map[string]string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 300 {
		var apiErr httpapi.ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		return resp.StatusCode, fmt.Errorf("%s %s: status %d %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

type fixture struct {
	customerID string
	productID  string
	stock      int
}

// prepare создаёт клиента и товар, за остаток которого конкурируют воркеры.
func prepare(cli *client, cfg config, runID string) (fixture, error) {
	var customer httpapi.CustomerResponse
	if _, err := cli.do(http.MethodPost, "/customers", httpapi.CreateCustomerRequest{
		Name:  "Load " + runID,
		Email: fmt.Sprintf("%s-%s@loadtest.local", cfg.customerTag, runID),
	}, nil, &customer); err != nil {
		return fixture{}, fmt.Errorf("create customer: %w", err)
	}

	var product httpapi.ProductResponse
	if _, err := cli.do(http.MethodPost, "/products", httpapi.CreateProductRequest{
		Name:     "load-item-" + runID,
		Price:    cfg.price,
		Quantity: cfg.stock,
	}, nil, &product); err != nil {
		return fixture{}, fmt.Errorf("create product: %w", err)
	}

	return fixture{customerID: customer.ID, productID: product.ID, stock: product.Quantity}, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	cli := newClient(cfg)
	startedAt := time.Now()
	runID := uuid.NewString()[:8]

	fx, err := prepare(cli, cfg, runID)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "prepare fixture: %v\n", err)
		os.Exit(1)
	}

	col := newCollector()
	jobs := make(chan int, cfg.concurrency*2)
	var placed int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if ok, _ := runScenario(cli, cfg, fx, id, runID, col); ok {
					atomic.AddInt64(&placed, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)

	stock, err := verifyStock(cli, cfg, fx, placed)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "verify stock: %v\n", err)
		os.Exit(1)
	}
	result.Stock = &stock

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || !stock.Consistent {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario размещает один заказ и сообщает, был ли он принят.
// В режиме place-replay запрос повторяется с тем же ключом и ответ обязан совпасть.
func runScenario(cli *client, cfg config, fx fixture, index int, runID string, col *collector) (bool, error) {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusCreated
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioStatus)
	}()

	req := httpapi.PlaceOrderRequest{
		CustomerID: fx.customerID,
		Products:   []httpapi.OrderLineRequest{{ID: fx.productID, Quantity: cfg.quantity}},
	}
	key := fmt.Sprintf("lt-place-%s-%d", runID, index)

	var order httpapi.OrderResponse
	status, err := callPlaceOrder(cli, req, key, &order, col, "PlaceOrder")
	scenarioStatus = status
	if !expectedStatus(status) {
		return false, err
	}
	if status == http.StatusCreated && order.ID == "" {
		scenarioStatus = 0
		return false, errors.New("place response returned empty order id")
	}

	if cfg.mode == modePlaceReplay {
		var replay httpapi.OrderResponse
		replayStatus, replayErr := callPlaceOrder(cli, req, key, &replay, col, "PlaceOrderReplay")
		if replayStatus != status || replay.ID != order.ID {
			scenarioStatus = 0
			if replayErr == nil {
				replayErr = fmt.Errorf("replay mismatch: status %d/%d order %q/%q", status, replayStatus, order.ID, replay.ID)
			}
			return false, replayErr
		}
	}

	return status == http.StatusCreated, nil
}

func callPlaceOrder(cli *client, req httpapi.PlaceOrderRequest, key string, out *httpapi.OrderResponse, col *collector, method string) (int, error) {
	start := time.Now()
	status, err := cli.do(http.MethodPost, "/orders", req, map[string]string{httpapi.HeaderIdempotencyKey: key}, out)
	col.record(method, time.Since(start), status)
	return status, err
}

// verifyStock сверяет остаток товара с числом принятых заказов.
func verifyStock(cli *client, cfg config, fx fixture, placed int64) (stockReport, error) {
	var product httpapi.ProductResponse
	if _, err := cli.do(http.MethodGet, "/products/"+fx.productID, nil, nil, &product); err != nil {
		return stockReport{}, err
	}
	expected := fx.stock - int(placed)*cfg.quantity
	return stockReport{
		ProductID:  fx.productID,
		Initial:    fx.stock,
		Placed:     placed,
		Remaining:  product.Quantity,
		Expected:   expected,
		Consistent: product.Quantity == expected && product.Quantity >= 0,
	}, nil
}

func expectedStatus(status int) bool {
	return status == http.StatusCreated || status == http.StatusConflict
}

func statusLabel(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)
	if result.Stock != nil {
		fmt.Printf("stock: initial=%d placed=%d remaining=%d expected=%d consistent=%t\n",
			result.Stock.Initial,
			result.Stock.Placed,
			result.Stock.Remaining,
			result.Stock.Expected,
			result.Stock.Consistent,
		)
	}

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
