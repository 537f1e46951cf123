package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uow/internal/compiler"
	"github.com/roach88/uow/internal/mapping"
	"github.com/roach88/uow/internal/unitofwork"
)

const shopMapping = `
entity: Customer: {
	generator: "sequence"
	fields: {id: int, name: string, vip: bool, joined: "time"}
}
entity: Order: {
	generator: "sequence"
	fields: {id: int, total: float}
	associations: {
		customer: {target: "Customer", cascade: ["save"]}
		items: {target: "LineItem", many: true, cascade: ["save", "delete"]}
		tags: {target: "Tag", many: true, owning: true}
	}
}
entity: LineItem: {
	generator: "sequence"
	fields: {id: int, sku: string}
	associations: order: {target: "Order"}
}
entity: Tag: {
	id: "code"
	fields: code: string
}
entity: Payment: {
	generator: "post_insert"
	fields: {id: int, amount: float}
	associations: order: {target: "Order"}
}
entity: CardPayment: {
	extends:       "Payment"
	discriminator: "card"
	fields: last4: string
}
`

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func shopRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	result, errs := compiler.LoadString(shopMapping, compiler.LoadModeFailFast)
	require.Empty(t, errs)
	reg, err := compiler.Registry(result.Types)
	require.NoError(t, err)
	return reg
}

func openTestStore(t *testing.T) (*Store, *mapping.Registry) {
	t.Helper()
	reg := shopRegistry(t)
	s, err := Open(context.Background(), "sqlite3", ":memory:", reg, WithLogger(quiet))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, reg
}

func newUnitOfWork(t *testing.T, s *Store, reg *mapping.Registry) *unitofwork.UnitOfWork {
	t.Helper()
	opts, err := s.IDGenerators(context.Background())
	require.NoError(t, err)
	opts = append(opts, unitofwork.WithLogger(quiet))
	return unitofwork.New(reg, s.Persisters(), opts...)
}

func obj(typeName string, kv ...any) *mapping.Object {
	o := mapping.NewObject(typeName)
	for i := 0; i+1 < len(kv); i += 2 {
		o.Set(kv[i].(string), kv[i+1])
	}
	return o
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM `+quote(table)).Scan(&n))
	return n
}

// seedOrder commits a customer, two tags, an order and one line item.
func seedOrder(t *testing.T, u *unitofwork.UnitOfWork) (order, item *mapping.Object) {
	t.Helper()
	ctx := context.Background()
	joined := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	cust := obj("Customer", "name", "Ada", "vip", true, "joined", joined)
	tagA, tagB := obj("Tag", "code", "a"), obj("Tag", "code", "b")
	order = obj("Order", "total", 12.5, "customer", cust, "tags", []mapping.Entity{tagA, tagB})
	item = obj("LineItem", "sku", "x-1", "order", order)
	order.Set("items", []mapping.Entity{item})

	require.NoError(t, u.Save(ctx, tagA))
	require.NoError(t, u.Save(ctx, tagB))
	require.NoError(t, u.Save(ctx, order))
	require.NoError(t, u.Commit(ctx))
	return order, item
}

func TestDDL_SQLite(t *testing.T) {
	stmts, err := DDL("sqlite3", shopRegistry(t))
	require.NoError(t, err)
	require.Len(t, stmts, 6)

	assert.True(t, strings.HasPrefix(stmts[0], `CREATE TABLE IF NOT EXISTS "customer"`))
	assert.Contains(t, stmts[0], `"vip" BOOLEAN`)
	assert.Contains(t, stmts[0], `"joined" TIMESTAMP`)
	assert.Contains(t, stmts[0], `PRIMARY KEY ("id")`)

	assert.Contains(t, stmts[1], `"customer_id" INTEGER`)
	assert.Contains(t, stmts[1], `FOREIGN KEY ("customer_id") REFERENCES "customer" ("id")`)
	assert.NotContains(t, stmts[1], `"items`)

	assert.Contains(t, stmts[2], `CREATE TABLE IF NOT EXISTS "line_item"`)

	assert.Contains(t, stmts[4], `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	assert.Contains(t, stmts[4], `"dtype" TEXT NOT NULL`)
	assert.Contains(t, stmts[4], `"last4" TEXT`)

	assert.Contains(t, stmts[5], `CREATE TABLE IF NOT EXISTS "order_tags"`)
	assert.Contains(t, stmts[5], `"owner_id" INTEGER NOT NULL`)
	assert.Contains(t, stmts[5], `"target_code" TEXT NOT NULL`)
	assert.Contains(t, stmts[5], `FOREIGN KEY ("target_code") REFERENCES "tag" ("code") ON DELETE CASCADE`)
}

func TestDDL_Postgres(t *testing.T) {
	stmts, err := DDL("pgx", shopRegistry(t))
	require.NoError(t, err)
	require.Len(t, stmts, 11)

	assert.Contains(t, stmts[0], `"id" BIGINT NOT NULL`)
	assert.Contains(t, stmts[0], `"joined" TIMESTAMPTZ`)
	assert.NotContains(t, stmts[1], "FOREIGN KEY")
	assert.Contains(t, stmts[4], `"id" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY`)
	assert.Equal(t,
		`ALTER TABLE "order" ADD CONSTRAINT "fk_order_customer_id" FOREIGN KEY ("customer_id") REFERENCES "customer" ("id")`,
		stmts[6])
}

func TestDDL_UnknownDriver(t *testing.T) {
	_, err := DDL("mysql", shopRegistry(t))
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestRebind(t *testing.T) {
	assert.Equal(t, `a = ? AND b = ?`, sqliteDialect.rebind(`a = ? AND b = ?`))
	assert.Equal(t, `a = $1 AND b = $2`, postgresDialect.rebind(`a = ? AND b = ?`))
}

func TestSnake(t *testing.T) {
	assert.Equal(t, "line_item", snake("LineItem"))
	assert.Equal(t, "order", snake("Order"))
	assert.Equal(t, "http_server", snake("HTTPServer"))
	assert.Equal(t, "card_payment", snake("card_payment"))
}

func TestOpen_Idempotent(t *testing.T) {
	reg := shopRegistry(t)
	path := filepath.Join(t.TempDir(), "shop.db")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := Open(ctx, "sqlite3", path, reg, WithLogger(quiet))
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(ctx, "sqlite3", path, reg, WithLogger(quiet))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 6, countRows(t, s, "uow_schema"))
	assert.Equal(t, "sqlite", s.Dialect())

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&mode))
	assert.Equal(t, "1", mode)
}

func TestCommit_WritesRowsAndJoinTables(t *testing.T) {
	s, reg := openTestStore(t)
	u := newUnitOfWork(t, s, reg)

	order, _ := seedOrder(t, u)

	assert.Equal(t, 1, countRows(t, s, "customer"))
	assert.Equal(t, 1, countRows(t, s, "order"))
	assert.Equal(t, 1, countRows(t, s, "line_item"))
	assert.Equal(t, 2, countRows(t, s, "tag"))
	assert.Equal(t, 2, countRows(t, s, "order_tags"))

	var orderID int64
	require.NoError(t, s.DB().QueryRow(`SELECT "order_id" FROM "line_item"`).Scan(&orderID))
	assert.EqualValues(t, order.Get("id"), orderID)

	var dtype string
	require.NoError(t, s.DB().QueryRow(`SELECT "dtype" FROM "order"`).Scan(&dtype))
	assert.Equal(t, "Order", dtype)
}

func TestLoad_RoundTrip(t *testing.T) {
	s, reg := openTestStore(t)
	order, _ := seedOrder(t, newUnitOfWork(t, s, reg))
	ctx := context.Background()

	u := newUnitOfWork(t, s, reg)
	e, err := s.Load(ctx, u, "Order", order.Get("id"))
	require.NoError(t, err)
	loaded := e.(*mapping.Object)

	assert.NotSame(t, order, loaded)
	assert.Equal(t, 12.5, loaded.Get("total"))
	assert.Equal(t, unitofwork.StateManaged, u.EntityState(loaded))

	cust := loaded.Get("customer").(*mapping.Object)
	assert.Equal(t, "Ada", cust.Get("name"))
	assert.Equal(t, true, cust.Get("vip"))
	assert.True(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC).Equal(cust.Get("joined").(time.Time)))

	tags := mapping.Entities(loaded.Get("tags"))
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0].(*mapping.Object).Get("code"))
	assert.Equal(t, "b", tags[1].(*mapping.Object).Get("code"))

	assert.Nil(t, loaded.Get("items"), "inverse side is not loaded")

	require.NoError(t, u.ComputeChangeSets())
	assert.True(t, u.Pending().Empty(), "freshly loaded entities are clean")

	again, err := s.Load(ctx, u, "Order", order.Get("id"))
	require.NoError(t, err)
	assert.Same(t, loaded, again)
}

func TestLoad_NotFound(t *testing.T) {
	s, reg := openTestStore(t)
	u := newUnitOfWork(t, s, reg)

	_, err := s.Load(context.Background(), u, "Order", int64(42))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, u.Size())
}

func TestCommit_UpdatesChangedFields(t *testing.T) {
	s, reg := openTestStore(t)
	order, _ := seedOrder(t, newUnitOfWork(t, s, reg))
	ctx := context.Background()

	u := newUnitOfWork(t, s, reg)
	e, err := s.Load(ctx, u, "Order", order.Get("id"))
	require.NoError(t, err)
	loaded := e.(*mapping.Object)

	loaded.Get("customer").(*mapping.Object).Set("name", "Grace")
	loaded.Set("tags", mapping.Entities(loaded.Get("tags"))[:1])
	require.NoError(t, u.Commit(ctx))

	var name string
	require.NoError(t, s.DB().QueryRow(`SELECT "name" FROM "customer"`).Scan(&name))
	assert.Equal(t, "Grace", name)
	assert.Equal(t, 1, countRows(t, s, "order_tags"))
	assert.Equal(t, 2, countRows(t, s, "tag"))
}

func TestCommit_DeleteCascades(t *testing.T) {
	s, reg := openTestStore(t)
	u := newUnitOfWork(t, s, reg)
	order, item := seedOrder(t, u)
	ctx := context.Background()

	require.NoError(t, u.Delete(order))
	assert.True(t, u.IsScheduledForDelete(item))
	require.NoError(t, u.Commit(ctx))

	assert.Equal(t, 0, countRows(t, s, "order"))
	assert.Equal(t, 0, countRows(t, s, "line_item"))
	assert.Equal(t, 0, countRows(t, s, "order_tags"))
	assert.Equal(t, 2, countRows(t, s, "tag"))
	assert.Equal(t, 1, countRows(t, s, "customer"))
}

func TestCommit_ForeignKeyViolationIsStoreFailure(t *testing.T) {
	s, reg := openTestStore(t)
	order, _ := seedOrder(t, newUnitOfWork(t, s, reg))
	ctx := context.Background()

	// Line items are on the inverse side and are not loaded, so they are
	// not cascaded and still reference the order.
	u := newUnitOfWork(t, s, reg)
	e, err := s.Load(ctx, u, "Order", order.Get("id"))
	require.NoError(t, err)
	require.NoError(t, u.Delete(e))

	err = u.Commit(ctx)

	require.Error(t, err)
	assert.True(t, unitofwork.IsStoreFailure(err))
	assert.Equal(t, 1, countRows(t, s, "order"))
}

const chainMapping = `
entity: Node: {
	generator: "sequence"
	fields: {id: int, label: string}
	associations: next: {target: "Node", cascade: ["save", "delete"]}
}
`

func TestCommit_SelfReferencingChain(t *testing.T) {
	ctx := context.Background()
	result, errs := compiler.LoadString(chainMapping, compiler.LoadModeFailFast)
	require.Empty(t, errs)
	reg, err := compiler.Registry(result.Types)
	require.NoError(t, err)
	s, err := Open(ctx, "sqlite3", ":memory:", reg, WithLogger(quiet))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	u := newUnitOfWork(t, s, reg)

	c := obj("Node", "label", "c")
	b := obj("Node", "label", "b", "next", c)
	a := obj("Node", "label", "a", "next", b)
	require.NoError(t, u.Save(ctx, a))
	require.NoError(t, u.Commit(ctx))
	assert.Equal(t, 3, countRows(t, s, "node"))

	var next int64
	require.NoError(t, s.DB().QueryRow(`SELECT "next_id" FROM "node" WHERE "label" = 'a'`).Scan(&next))
	assert.EqualValues(t, b.Get("id"), next)

	require.NoError(t, u.Delete(a))
	require.NoError(t, u.Commit(ctx))
	assert.Equal(t, 0, countRows(t, s, "node"))
}

func TestPostInsertIdentifiersAndSubtypes(t *testing.T) {
	s, reg := openTestStore(t)
	ctx := context.Background()

	u := newUnitOfWork(t, s, reg)
	card := obj("CardPayment", "amount", 30.0, "last4", "4242")
	require.NoError(t, u.Save(ctx, card))
	assert.Equal(t, int64(1), card.Get("id"), "post-insert identifier is assigned during save")
	require.NoError(t, u.Commit(ctx))

	var dtype string
	require.NoError(t, s.DB().QueryRow(`SELECT "dtype" FROM "payment"`).Scan(&dtype))
	assert.Equal(t, "card", dtype)

	n, err := s.Count(ctx, "CardPayment")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u2 := newUnitOfWork(t, s, reg)
	e, err := s.Load(ctx, u2, "Payment", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "CardPayment", e.EntityType())
	assert.Equal(t, "4242", e.(*mapping.Object).Get("last4"))
	assert.Nil(t, e.(*mapping.Object).Get("order"))
}

func TestIDGenerators_ContinueAfterStoredRows(t *testing.T) {
	s, reg := openTestStore(t)
	seedOrder(t, newUnitOfWork(t, s, reg))
	ctx := context.Background()

	u := newUnitOfWork(t, s, reg)
	cust := obj("Customer", "name", "Lin")
	require.NoError(t, u.Save(ctx, cust))
	require.NoError(t, u.Commit(ctx))

	assert.Equal(t, int64(2), cust.Get("id"))
	all, err := s.LoadAll(ctx, newUnitOfWork(t, s, reg), "Customer")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ada", all[0].(*mapping.Object).Get("name"))
	assert.Equal(t, "Lin", all[1].(*mapping.Object).Get("name"))
}

func TestCollectionPersister_RejectsNonCollection(t *testing.T) {
	s, _ := openTestStore(t)

	err := s.UpdateCollection(context.Background(), obj("Order", "id", int64(1)), "customer")

	assert.ErrorContains(t, err, "not an owning to-many association")
}
