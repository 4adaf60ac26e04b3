package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/models"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
	"bitbucket.org/mmdatafocus/meatsales_backend/workflow"
	"github.com/shopspring/decimal"
)

// Full order lifecycle against real MySQL + Redis:
// receive two invoices, reserve, weigh (FIFO spans both layers), cancel
// (provenance-preserving restoration), and verify the stock snapshot
// agrees with the ledger at every step.
func TestOrderFIFOLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "meatsales_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	logger := config.GetLogger()

	// Registries.
	seller, err := models.CreateSeller(ctx, "Counter One", "", "")
	if err != nil {
		t.Fatalf("CreateSeller: %v", err)
	}
	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{
		Name:     "Corner Butcher",
		Address:  "Main St 1",
		SellerId: seller.ID,
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	supplier, err := models.CreateSupplier(ctx, &models.NewSupplier{Name: "Farm Co"})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}
	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:         "Pork Shoulder",
		PricePerKilo: decimal.RequireFromString("30"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	// Two receiving invoices a day apart: 5 units @ 10 then 5 units @ 20.
	day1 := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	_, err = models.CreatePurchaseInvoice(ctx, &models.NewPurchaseInvoice{
		SupplierId:  supplier.ID,
		InvoiceDate: day1,
		Details: []*models.NewPurchaseInvoiceDetail{
			{ProductId: product.ID, Units: 5, Kilos: decimal.RequireFromString("25"), UnitCost: decimal.RequireFromString("10")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseInvoice day1: %v", err)
	}
	invoice2, err := models.CreatePurchaseInvoice(ctx, &models.NewPurchaseInvoice{
		SupplierId:  supplier.ID,
		InvoiceDate: day2,
		Details: []*models.NewPurchaseInvoiceDetail{
			{ProductId: product.ID, Units: 5, Kilos: decimal.RequireFromString("30"), UnitCost: decimal.RequireFromString("20")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseInvoice day2: %v", err)
	}

	// A first instalment above the invoice total (100) must be rejected.
	_, err = models.CreateInvoicePayment(ctx, invoice2.ID, decimal.RequireFromString("150"), time.Time{}, "")
	if err == nil {
		t.Fatal("overpaying first instalment should fail")
	}
	if _, err := models.CreateInvoicePayment(ctx, invoice2.ID, decimal.RequireFromString("60"), time.Time{}, ""); err != nil {
		t.Fatalf("CreateInvoicePayment: %v", err)
	}

	assertSnapshot(t, ctx, product.ID, snapshotWant{received: 10, sold: 0, reserved: 0, onHand: 10, ledgerUnits: 10})

	// Reserve 8 units without weight: the ledger must not move.
	order, err := workflow.CreateOrder(ctx, logger, &models.NewOrder{
		CustomerId: customer.ID,
		Lines: []*models.NewOrderLine{
			{ProductId: product.ID, Units: 8},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != models.OrderStatusReserved {
		t.Fatalf("order status = %s, want Reserved", order.Status)
	}
	assertSnapshot(t, ctx, product.ID, snapshotWant{received: 10, sold: 0, reserved: 8, onHand: 10, ledgerUnits: 10})

	// Weigh-in: 8 units at 40kg. FIFO takes 5 @ 10 + 3 @ 20.
	order, err = workflow.WeighOrder(ctx, logger, order.ID, []*workflow.LineWeight{
		{OrderLineId: order.Lines[0].ID, Kilos: decimal.RequireFromString("40")},
	})
	if err != nil {
		t.Fatalf("WeighOrder: %v", err)
	}
	if order.Status != models.OrderStatusPrepared {
		t.Fatalf("order status = %s, want Prepared", order.Status)
	}
	if !order.TotalCost.Equal(decimal.RequireFromString("110")) {
		t.Fatalf("order total cost = %s, want 110", order.TotalCost)
	}
	if !order.TotalSale.Equal(decimal.RequireFromString("1200")) {
		t.Fatalf("order total sale = %s, want 40kg x 30 = 1200", order.TotalSale)
	}
	line := order.Lines[0]
	if !line.UnitCostAtTime.Equal(decimal.RequireFromString("13.75")) {
		t.Fatalf("line unit cost = %s, want 13.75", line.UnitCostAtTime)
	}
	if len(line.Allocations) != 2 {
		t.Fatalf("allocations = %d, want 2", len(line.Allocations))
	}
	assertSnapshot(t, ctx, product.ID, snapshotWant{received: 10, sold: 8, reserved: 0, onHand: 2, ledgerUnits: 2})

	db := config.GetDB()
	var remaining []*models.InventoryEntry
	if err := db.Where("product_id = ?", product.ID).Order("entry_date ASC").Find(&remaining).Error; err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(remaining) != 1 || remaining[0].RemainingUnits != 2 {
		t.Fatalf("remaining layers = %+v, want one layer of 2 units", remaining)
	}

	// Cancel: one restored layer per allocation, dated before the
	// surviving day2 layer, costs taken from the source invoices.
	order, err = workflow.CancelOrder(ctx, logger, order.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if order.Status != models.OrderStatusCancelled {
		t.Fatalf("order status = %s, want Cancelled", order.Status)
	}
	assertSnapshot(t, ctx, product.ID, snapshotWant{received: 10, sold: 0, reserved: 0, onHand: 10, ledgerUnits: 10})

	if err := db.Where("product_id = ?", product.ID).Order("entry_date ASC, unit_cost ASC").Find(&remaining).Error; err != nil {
		t.Fatalf("load entries after cancel: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("layers after cancel = %d, want 3 (2 restored + 1 surviving)", len(remaining))
	}
	if remaining[0].RemainingUnits != 5 || !remaining[0].UnitCost.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("restored layer 1 = %d @ %s, want 5 @ 10", remaining[0].RemainingUnits, remaining[0].UnitCost)
	}
	if remaining[1].RemainingUnits != 3 || !remaining[1].UnitCost.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("restored layer 2 = %d @ %s, want 3 @ 20", remaining[1].RemainingUnits, remaining[1].UnitCost)
	}
	if !remaining[0].EntryDate.Before(remaining[2].EntryDate) {
		t.Fatalf("restored layers must predate the surviving layer: %s vs %s",
			remaining[0].EntryDate, remaining[2].EntryDate)
	}

	// Provenance survives cancellation.
	cancelled, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder after cancel: %v", err)
	}
	if len(cancelled.Lines) != 1 || len(cancelled.Lines[0].Allocations) != 2 {
		t.Fatalf("cancelled order lost lines/allocations: %+v", cancelled.Lines)
	}

	// Cancelling again must fail and restore nothing.
	if _, err := workflow.CancelOrder(ctx, logger, order.ID); !errors.Is(err, utils.ErrAlreadyCancelled) {
		t.Fatalf("second cancel err = %v, want ErrAlreadyCancelled", err)
	}
	assertSnapshot(t, ctx, product.ID, snapshotWant{received: 10, sold: 0, reserved: 0, onHand: 10, ledgerUnits: 10})

	// Every transition left an outbox row behind.
	events, err := models.ListOrderEvents(ctx, order.ID)
	if err != nil {
		t.Fatalf("ListOrderEvents: %v", err)
	}
	wantEvents := []models.OrderEventType{models.OrderEventCreated, models.OrderEventWeighed, models.OrderEventCancelled}
	if len(events) != len(wantEvents) {
		t.Fatalf("events = %d, want %d", len(events), len(wantEvents))
	}
	for i, want := range wantEvents {
		if events[i].EventType != want {
			t.Fatalf("event[%d] = %s, want %s", i, events[i].EventType, want)
		}
		if events[i].PublishStatus != models.OrderEventStatusPending {
			t.Fatalf("event[%d] publish status = %s, want PENDING before dispatch", i, events[i].PublishStatus)
		}
	}

	// An order whose kilos arrive with the lines allocates at creation and
	// starts life Prepared; FIFO takes 4 from the restored 5 @ 10 layer.
	preWeighed, err := workflow.CreateOrder(ctx, logger, &models.NewOrder{
		CustomerId: customer.ID,
		Lines: []*models.NewOrderLine{
			{ProductId: product.ID, Units: 4, Kilos: decimal.RequireFromString("20")},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder pre-weighed: %v", err)
	}
	if preWeighed.Status != models.OrderStatusPrepared {
		t.Fatalf("pre-weighed order status = %s, want Prepared", preWeighed.Status)
	}
	if !preWeighed.TotalCost.Equal(decimal.RequireFromString("40")) {
		t.Fatalf("pre-weighed order total cost = %s, want 4 x 10 = 40", preWeighed.TotalCost)
	}
	assertSnapshot(t, ctx, product.ID, snapshotWant{received: 10, sold: 4, reserved: 0, onHand: 6, ledgerUnits: 6})

	preWeighed, err = workflow.MarkOrderPaid(ctx, logger, preWeighed.ID)
	if err != nil {
		t.Fatalf("MarkOrderPaid pre-weighed: %v", err)
	}
	if preWeighed.Status != models.OrderStatusPaid {
		t.Fatalf("pre-weighed order status = %s, want Paid", preWeighed.Status)
	}
}

func TestOrderInsufficientStockRollsBackEverything(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "meatsales_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	logger := config.GetLogger()

	seller, err := models.CreateSeller(ctx, "Counter One", "", "")
	if err != nil {
		t.Fatalf("CreateSeller: %v", err)
	}
	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{
		Name: "Corner Butcher", Address: "Main St 1", SellerId: seller.ID,
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	supplier, err := models.CreateSupplier(ctx, &models.NewSupplier{Name: "Farm Co"})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}
	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:         "Beef Rib",
		PricePerKilo: decimal.RequireFromString("50"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	_, err = models.CreatePurchaseInvoice(ctx, &models.NewPurchaseInvoice{
		SupplierId: supplier.ID,
		Details: []*models.NewPurchaseInvoiceDetail{
			{ProductId: product.ID, Units: 3, Kilos: decimal.RequireFromString("15"), UnitCost: decimal.RequireFromString("10")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseInvoice: %v", err)
	}

	// Weighed at creation but over-sold: the whole order must roll back.
	_, err = workflow.CreateOrder(ctx, logger, &models.NewOrder{
		CustomerId: customer.ID,
		Lines: []*models.NewOrderLine{
			{ProductId: product.ID, Units: 5, Kilos: decimal.RequireFromString("25")},
		},
	})
	if !errors.Is(err, utils.ErrInsufficientStock) {
		t.Fatalf("CreateOrder err = %v, want ErrInsufficientStock", err)
	}

	orders, err := models.ListOrders(ctx, nil)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("orders = %d, want 0 after rollback", len(orders))
	}
	assertSnapshot(t, ctx, product.ID, snapshotWant{received: 3, sold: 0, reserved: 0, onHand: 3, ledgerUnits: 3})
}

type snapshotWant struct {
	received, sold, reserved, onHand, ledgerUnits int
}

func assertSnapshot(t *testing.T, ctx context.Context, productId int, want snapshotWant) {
	t.Helper()
	snapshot, err := models.GetStockSnapshot(ctx, productId)
	if err != nil {
		t.Fatalf("GetStockSnapshot: %v", err)
	}
	if snapshot.Received != want.received || snapshot.Sold != want.sold ||
		snapshot.Reserved != want.reserved || snapshot.OnHand != want.onHand ||
		snapshot.LedgerUnits != want.ledgerUnits {
		t.Fatalf("snapshot = received=%d sold=%d reserved=%d onHand=%d ledger=%d, want %+v",
			snapshot.Received, snapshot.Sold, snapshot.Reserved, snapshot.OnHand, snapshot.LedgerUnits, want)
	}
	// The ledger is the source of truth: the order-derived view and the
	// sum of remaining layers must agree.
	if snapshot.OnHand != snapshot.LedgerUnits+snapshot.AdjustmentUnits {
		t.Fatalf("view disagreement: onHand=%d ledger=%d adjustments=%d",
			snapshot.OnHand, snapshot.LedgerUnits, snapshot.AdjustmentUnits)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("meatsales-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("meatsales-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=meatsales_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
