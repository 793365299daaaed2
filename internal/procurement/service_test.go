package procurement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/acopio-erp/acopio-erp/internal/inventory"
	"github.com/acopio-erp/acopio-erp/internal/masterdata/products"
	"github.com/acopio-erp/acopio-erp/internal/notify"
)

type memoryRepo struct {
	requests       map[int64]PurchaseRequest
	requestLines   map[int64][]RequestLine
	consolidations map[int64]ConsolidatedOrder
	consolLines    map[int64][]ConsolidatedLine
	orders         map[int64]PurchaseOrder
	orderLines     map[int64][]OrderLine
	deferred       map[int64][]DeferredItem
	missing        map[int64][]MissingItem
	invoices       map[string]Invoice
	orderRequests  map[int64][]int64
	nextID         int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests:       make(map[int64]PurchaseRequest),
		requestLines:   make(map[int64][]RequestLine),
		consolidations: make(map[int64]ConsolidatedOrder),
		consolLines:    make(map[int64][]ConsolidatedLine),
		orders:         make(map[int64]PurchaseOrder),
		orderLines:     make(map[int64][]OrderLine),
		deferred:       make(map[int64][]DeferredItem),
		missing:        make(map[int64][]MissingItem),
		invoices:       make(map[string]Invoice),
		orderRequests:  make(map[int64][]int64),
	}
}

func (r *memoryRepo) addRequest(status RequestStatus, lines ...RequestLine) int64 {
	r.nextID++
	id := r.nextID
	r.requests[id] = PurchaseRequest{ID: id, Status: status, CreatedAt: time.Now()}
	for i := range lines {
		lines[i].RequestID = id
	}
	r.requestLines[id] = lines
	return id
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetRequest(ctx context.Context, id int64) (PurchaseRequest, []RequestLine, error) {
	request, ok := r.requests[id]
	if !ok {
		return PurchaseRequest{}, nil, ErrNotFound
	}
	return request, append([]RequestLine(nil), r.requestLines[id]...), nil
}

func (r *memoryRepo) ListPendingRequests(ctx context.Context, categoryID int64) ([]PurchaseRequest, error) {
	var pending []PurchaseRequest
	for _, request := range r.requests {
		if request.Status == RequestStatusPending {
			pending = append(pending, request)
		}
	}
	return pending, nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderLine, error) {
	order, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return order, append([]OrderLine(nil), r.orderLines[id]...), nil
}

func (r *memoryRepo) GetConsolidation(ctx context.Context, id int64) (ConsolidatedOrder, []ConsolidatedLine, error) {
	co, ok := r.consolidations[id]
	if !ok {
		return ConsolidatedOrder{}, nil, ErrNotFound
	}
	return co, append([]ConsolidatedLine(nil), r.consolLines[id]...), nil
}

func (r *memoryRepo) InvoiceNumberExists(ctx context.Context, number string) (bool, error) {
	_, ok := r.invoices[number]
	return ok, nil
}

func (tx *memoryTx) nextID() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryTx) CreateConsolidation(ctx context.Context, co ConsolidatedOrder) (int64, error) {
	id := tx.nextID()
	co.ID = id
	tx.repo.consolidations[id] = co
	return id, nil
}

func (tx *memoryTx) InsertConsolidatedLine(ctx context.Context, line ConsolidatedLine) error {
	line.ID = tx.nextID()
	tx.repo.consolLines[line.ConsolidationID] = append(tx.repo.consolLines[line.ConsolidationID], line)
	return nil
}

func (tx *memoryTx) UpdateConsolidationStatus(ctx context.Context, id int64, status ConsolidationStatus) error {
	co, ok := tx.repo.consolidations[id]
	if !ok {
		return ErrNotFound
	}
	co.Status = status
	tx.repo.consolidations[id] = co
	return nil
}

func (tx *memoryTx) DeleteConsolidation(ctx context.Context, id int64) error {
	delete(tx.repo.consolidations, id)
	delete(tx.repo.consolLines, id)
	return nil
}

func (tx *memoryTx) CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	id := tx.nextID()
	po.ID = id
	tx.repo.orders[id] = po
	return id, nil
}

func (tx *memoryTx) InsertOrderLine(ctx context.Context, line OrderLine) error {
	line.ID = tx.nextID()
	tx.repo.orderLines[line.OrderID] = append(tx.repo.orderLines[line.OrderID], line)
	return nil
}

func (tx *memoryTx) TransitionOrder(ctx context.Context, id int64, from, to OrderStatus, version int64) error {
	order, ok := tx.repo.orders[id]
	if !ok {
		return ErrNotFound
	}
	if order.Status != from || order.Version != version {
		return ErrConflict
	}
	order.Status = to
	order.Version++
	tx.repo.orders[id] = order
	return nil
}

func (tx *memoryTx) SetActualDelivery(ctx context.Context, id int64, at time.Time) error {
	order := tx.repo.orders[id]
	order.ActualDelivery = at
	tx.repo.orders[id] = order
	return nil
}

func (tx *memoryTx) ClearActualDelivery(ctx context.Context, id int64) error {
	order := tx.repo.orders[id]
	order.ActualDelivery = time.Time{}
	tx.repo.orders[id] = order
	return nil
}

func (tx *memoryTx) InsertDeferredItem(ctx context.Context, item DeferredItem) error {
	item.ID = tx.nextID()
	tx.repo.deferred[item.OrderID] = append(tx.repo.deferred[item.OrderID], item)
	return nil
}

func (tx *memoryTx) InsertMissingItem(ctx context.Context, item MissingItem) error {
	item.ID = tx.nextID()
	tx.repo.missing[item.OrderID] = append(tx.repo.missing[item.OrderID], item)
	return nil
}

func (tx *memoryTx) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	if _, ok := tx.repo.invoices[inv.Number]; ok {
		return 0, ErrConflict
	}
	id := tx.nextID()
	inv.ID = id
	tx.repo.invoices[inv.Number] = inv
	return id, nil
}

func (tx *memoryTx) UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus) error {
	request, ok := tx.repo.requests[id]
	if !ok {
		return ErrNotFound
	}
	request.Status = status
	tx.repo.requests[id] = request
	return nil
}

func (tx *memoryTx) LinkRequestToOrder(ctx context.Context, orderID, requestID int64) error {
	tx.repo.orderRequests[orderID] = append(tx.repo.orderRequests[orderID], requestID)
	return nil
}

type stubProducts struct {
	byID    map[int64]products.Product
	nextID  int64
	deleted []int64
	failOn  string
}

func newStubProducts() *stubProducts {
	return &stubProducts{byID: make(map[int64]products.Product), nextID: 1000}
}

func (s *stubProducts) Get(ctx context.Context, id int64) (products.Product, error) {
	p, ok := s.byID[id]
	if !ok {
		return products.Product{}, products.ErrNotFound
	}
	return p, nil
}

func (s *stubProducts) Create(ctx context.Context, product products.Product) (products.Product, error) {
	if s.failOn == product.Name {
		return products.Product{}, fmt.Errorf("stub: create refused")
	}
	s.nextID++
	product.ID = s.nextID
	s.byID[product.ID] = product
	return product, nil
}

func (s *stubProducts) Delete(ctx context.Context, id int64) error {
	delete(s.byID, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type stubInventory struct {
	receipts [][]inventory.ReceiptItem
	balances map[int64]inventory.Record
	refs     map[string]bool
	fail     bool
}

func (s *stubInventory) Receive(ctx context.Context, ref string, items []inventory.ReceiptItem) ([]inventory.Record, error) {
	if s.fail {
		return nil, fmt.Errorf("stub: inventory down")
	}
	if s.refs == nil {
		s.refs = make(map[string]bool)
	}
	if s.balances == nil {
		s.balances = make(map[int64]inventory.Record)
	}
	if s.refs[ref] {
		// Same dedupe contract as the real service: no increment,
		// current balances returned.
		var records []inventory.Record
		for _, item := range items {
			records = append(records, s.balances[item.ProductID])
		}
		return records, nil
	}
	s.refs[ref] = true
	s.receipts = append(s.receipts, items)
	var records []inventory.Record
	for _, item := range items {
		record := s.balances[item.ProductID]
		record.ProductID = item.ProductID
		record.Qty += item.Qty
		s.balances[item.ProductID] = record
		records = append(records, record)
	}
	return records, nil
}

type stubTaxRates struct {
	rate decimal.Decimal
	err  error
}

func (s *stubTaxRates) Effective(ctx context.Context) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	return s.rate, nil
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, evt notify.Event) error {
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) typesSeen() []notify.EventType {
	var types []notify.EventType
	for _, evt := range n.events {
		types = append(types, evt.Type)
	}
	return types
}

func newTestService(repo *memoryRepo) (*Service, *stubProducts, *stubInventory, *recordingNotifier) {
	prods := newStubProducts()
	inv := &stubInventory{balances: make(map[int64]inventory.Record)}
	notifier := &recordingNotifier{}
	svc := NewService(repo, prods, inv, &stubTaxRates{rate: d("0.16")}, notifier, nil, nil, nil, ServiceConfig{})
	return svc, prods, inv, notifier
}

func TestConsolidateAggregatesByProduct(t *testing.T) {
	repo := newMemoryRepo()
	r1 := repo.addRequest(RequestStatusPending,
		RequestLine{ProductID: 1, Qty: 5},
		RequestLine{ProductID: 2, Qty: 3},
	)
	r2 := repo.addRequest(RequestStatusPending,
		RequestLine{ProductID: 2, Qty: 7},
		RequestLine{ProductID: 3, Qty: 1},
	)
	svc, _, _, _ := newTestService(repo)

	lines, err := svc.Consolidate(context.Background(), []int64{r1, r2})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, int64(1), lines[0].ProductID)
	require.Equal(t, int64(5), lines[0].Qty)
	require.Equal(t, []int64{r1}, lines[0].RequestIDs)
	require.Equal(t, int64(2), lines[1].ProductID)
	require.Equal(t, int64(10), lines[1].Qty)
	require.Equal(t, []int64{r1, r2}, lines[1].RequestIDs)
	require.Equal(t, int64(3), lines[2].ProductID)
}

func TestConsolidateRejectsNonPending(t *testing.T) {
	repo := newMemoryRepo()
	r1 := repo.addRequest(RequestStatusApproved, RequestLine{ProductID: 1, Qty: 5})
	svc, _, _, _ := newTestService(repo)

	_, err := svc.Consolidate(context.Background(), []int64{r1})
	require.ErrorIs(t, err, ErrValidation)
}

func TestConsolidateEmptySelection(t *testing.T) {
	svc, _, _, _ := newTestService(newMemoryRepo())
	_, err := svc.Consolidate(context.Background(), nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateConsolidatedOrder(t *testing.T) {
	repo := newMemoryRepo()
	r1 := repo.addRequest(RequestStatusPending, RequestLine{ProductID: 1, Qty: 5})
	svc, _, _, notifier := newTestService(repo)

	co, err := svc.CreateConsolidatedOrder(context.Background(), 7, []int64{r1})
	require.NoError(t, err)
	require.NotZero(t, co.ID)
	require.Equal(t, ConsolidationStatusPending, co.Status)
	require.Len(t, repo.consolLines[co.ID], 1)
	require.Contains(t, notifier.typesSeen(), notify.EventConsolidationCreated)

	// Requests stay pending until an order resolves them.
	request, _, err := repo.GetRequest(context.Background(), r1)
	require.NoError(t, err)
	require.Equal(t, RequestStatusPending, request.Status)
}

func TestDeleteConsolidatedOrderOnlyPending(t *testing.T) {
	repo := newMemoryRepo()
	r1 := repo.addRequest(RequestStatusPending, RequestLine{ProductID: 1, Qty: 5})
	svc, _, _, _ := newTestService(repo)
	ctx := context.Background()

	co, err := svc.CreateConsolidatedOrder(ctx, 7, []int64{r1})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteConsolidatedOrder(ctx, co.ID))
	_, _, err = repo.GetConsolidation(ctx, co.ID)
	require.ErrorIs(t, err, ErrNotFound)

	co2, err := svc.CreateConsolidatedOrder(ctx, 7, []int64{r1})
	require.NoError(t, err)
	processed := repo.consolidations[co2.ID]
	processed.Status = ConsolidationStatusProcessed
	repo.consolidations[co2.ID] = processed
	require.ErrorIs(t, svc.DeleteConsolidatedOrder(ctx, co2.ID), ErrInvalidState)
}

func TestAssembleFromConsolidation(t *testing.T) {
	repo := newMemoryRepo()
	r1 := repo.addRequest(RequestStatusPending,
		RequestLine{ProductID: 1, Qty: 5},
		RequestLine{ProductID: 2, Qty: 3},
	)
	r2 := repo.addRequest(RequestStatusPending, RequestLine{ProductID: 2, Qty: 7})
	svc, _, _, notifier := newTestService(repo)
	ctx := context.Background()

	co, err := svc.CreateConsolidatedOrder(ctx, 7, []int64{r1, r2})
	require.NoError(t, err)

	po, err := svc.Assemble(ctx, AssembleInput{
		SupplierID:         7,
		WithholdingPercent: d("75"),
		EstimatedDelivery:  time.Now().AddDate(0, 0, 7),
		ConsolidationID:    co.ID,
		RequestIDs:         []int64{r1, r2},
		Lines: []CandidateLine{
			{ProductID: 1, Qty: 5, UnitPrice: d("10.00"), Included: true},
			{ProductID: 2, Qty: 10, UnitPrice: d("4.00"), Included: true},
		},
	})
	require.NoError(t, err)
	require.NotZero(t, po.ID)
	require.Equal(t, OrderStatusPending, po.Status)
	require.Equal(t, "Bs", po.Currency)
	require.Equal(t, int64(1), po.Version)
	require.True(t, po.Subtotal.Equal(d("90.00")))
	require.True(t, po.Tax.Equal(d("14.40")))
	require.True(t, po.Withholding.Equal(d("10.80")))
	require.True(t, po.NetPayable.Equal(d("93.60")))
	require.Len(t, repo.orderLines[po.ID], 2)

	// Both source requests resolved and linked.
	for _, id := range []int64{r1, r2} {
		request, _, err := repo.GetRequest(ctx, id)
		require.NoError(t, err)
		require.Equal(t, RequestStatusApproved, request.Status)
	}
	require.ElementsMatch(t, []int64{r1, r2}, repo.orderRequests[po.ID])
	require.Equal(t, ConsolidationStatusProcessed, repo.consolidations[co.ID].Status)
	require.Contains(t, notifier.typesSeen(), notify.EventOrderCreated)
}

func TestAssembleDefersExcludedLines(t *testing.T) {
	repo := newMemoryRepo()
	r1 := repo.addRequest(RequestStatusPending,
		RequestLine{ProductID: 1, Qty: 5},
		RequestLine{ProductID: 2, Qty: 3},
	)
	svc, _, _, _ := newTestService(repo)

	po, err := svc.Assemble(context.Background(), AssembleInput{
		SupplierID: 7,
		RequestIDs: []int64{r1},
		Lines: []CandidateLine{
			{ProductID: 1, Qty: 5, UnitPrice: d("10.00"), Included: true},
			{ProductID: 2, Qty: 3, UnitPrice: d("4.00"), Included: false, DeferralReason: "supplier out of stock"},
		},
	})
	require.NoError(t, err)
	require.Len(t, repo.orderLines[po.ID], 1)
	deferred := repo.deferred[po.ID]
	require.Len(t, deferred, 1)
	require.Equal(t, int64(2), deferred[0].ProductID)
	require.Equal(t, "supplier out of stock", deferred[0].Reason)
	require.Equal(t, r1, deferred[0].RequestID)

	// The request is resolved even though one line was deferred.
	request, _, err := repo.GetRequest(context.Background(), r1)
	require.NoError(t, err)
	require.Equal(t, RequestStatusApproved, request.Status)
}

func TestAssembleRejectsNoIncludedLines(t *testing.T) {
	repo := newMemoryRepo()
	r1 := repo.addRequest(RequestStatusPending, RequestLine{ProductID: 1, Qty: 5})
	svc, _, _, _ := newTestService(repo)

	_, err := svc.Assemble(context.Background(), AssembleInput{
		SupplierID: 7,
		RequestIDs: []int64{r1},
		Lines: []CandidateLine{
			{ProductID: 1, Qty: 5, UnitPrice: d("10.00"), Included: false},
		},
	})
	require.ErrorIs(t, err, ErrValidation)

	// Nothing was written and the request is untouched.
	require.Empty(t, repo.orders)
	request, _, err := repo.GetRequest(context.Background(), r1)
	require.NoError(t, err)
	require.Equal(t, RequestStatusPending, request.Status)
}

func TestAssembleValidation(t *testing.T) {
	svc, _, _, _ := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Assemble(ctx, AssembleInput{Lines: []CandidateLine{{ProductID: 1, Qty: 1, Included: true}}})
	require.ErrorIs(t, err, ErrValidation, "missing supplier")

	_, err = svc.Assemble(ctx, AssembleInput{SupplierID: 7})
	require.ErrorIs(t, err, ErrValidation, "no lines")

	_, err = svc.Assemble(ctx, AssembleInput{SupplierID: 7, Lines: []CandidateLine{{Qty: 1, Included: true}}})
	require.ErrorIs(t, err, ErrValidation, "no product reference")

	_, err = svc.Assemble(ctx, AssembleInput{SupplierID: 7, Lines: []CandidateLine{{ProductID: 1, Qty: 0, Included: true}}})
	require.ErrorIs(t, err, ErrValidation, "zero quantity")

	_, err = svc.Assemble(ctx, AssembleInput{SupplierID: 7, Lines: []CandidateLine{{ProductID: 1, Qty: 1, UnitPrice: d("-1"), Included: true}}})
	require.ErrorIs(t, err, ErrValidation, "negative price")
}

func TestAssembleCreatesNewProducts(t *testing.T) {
	repo := newMemoryRepo()
	svc, prods, _, _ := newTestService(repo)

	po, err := svc.Assemble(context.Background(), AssembleInput{
		SupplierID: 7,
		Lines: []CandidateLine{
			{NewProduct: &NewProductSpec{Name: "Industrial Degreaser", CategoryID: 3}, Qty: 2, UnitPrice: d("25.00"), Included: true},
		},
	})
	require.NoError(t, err)
	lines := repo.orderLines[po.ID]
	require.Len(t, lines, 1)
	created, err := prods.Get(context.Background(), lines[0].ProductID)
	require.NoError(t, err)
	require.Equal(t, "Industrial Degreaser", created.Name)
	require.True(t, created.IsActive)
}

func TestAssembleCompensatesProductsOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc, prods, _, _ := newTestService(repo)
	prods.failOn = "Second Product"

	_, err := svc.Assemble(context.Background(), AssembleInput{
		SupplierID: 7,
		Lines: []CandidateLine{
			{NewProduct: &NewProductSpec{Name: "First Product", CategoryID: 3}, Qty: 1, UnitPrice: d("5.00"), Included: true},
			{NewProduct: &NewProductSpec{Name: "Second Product", CategoryID: 3}, Qty: 1, UnitPrice: d("5.00"), Included: true},
		},
	})
	require.Error(t, err)
	var wfErr *WorkflowError
	require.ErrorAs(t, err, &wfErr)
	require.Equal(t, "create-product", wfErr.Step)
	require.Len(t, prods.deleted, 1, "first product cleaned up")
	require.Empty(t, repo.orders)
}

func TestAssembleTaxRateFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, newStubProducts(), &stubInventory{}, &stubTaxRates{err: fmt.Errorf("redis down")}, nil, nil, nil, nil, ServiceConfig{})

	_, err := svc.Assemble(context.Background(), AssembleInput{
		SupplierID: 7,
		Lines:      []CandidateLine{{ProductID: 1, Qty: 1, UnitPrice: d("5.00"), Included: true}},
	})
	require.ErrorIs(t, err, ErrDependency)
}

func TestLargeOrderAlert(t *testing.T) {
	repo := newMemoryRepo()
	prods := newStubProducts()
	notifier := &recordingNotifier{}
	svc := NewService(repo, prods, &stubInventory{}, &stubTaxRates{rate: d("0.16")}, notifier, nil, nil, nil, ServiceConfig{
		LargeOrderThreshold: d("1000"),
	})

	_, err := svc.Assemble(context.Background(), AssembleInput{
		SupplierID: 7,
		Lines:      []CandidateLine{{ProductID: 1, Qty: 100, UnitPrice: d("50.00"), Included: true}},
	})
	require.NoError(t, err)
	require.Contains(t, notifier.typesSeen(), notify.EventLargeOrder)
}
