package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customer struct {
	ID     int64  `uow:"id"`
	Name   string `uow:"name"`
	Orders []*order
	Secret string `uow:"-"`
}

func (*customer) EntityType() string { return "Customer" }

type order struct {
	ID       int64
	Total    float64 `uow:"total"`
	Customer *customer
}

func (*order) EntityType() string { return "Order" }

func TestObjectAccessor(t *testing.T) {
	o := NewObject("Order")
	acc := ObjectAccessor{}

	assert.Nil(t, acc.Get(o, "total"))
	require.NoError(t, acc.Set(o, "total", 10))
	assert.Equal(t, 10, acc.Get(o, "total"))
	assert.Equal(t, "Order", o.EntityType())

	assert.Error(t, acc.Set(&customer{}, "name", "x"))
}

func TestStructAccessor_TagsAndNames(t *testing.T) {
	acc, err := NewStructAccessor(&customer{})
	require.NoError(t, err)

	c := &customer{}
	require.NoError(t, acc.Set(c, "id", 7))
	require.NoError(t, acc.Set(c, "name", "Ada"))
	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, "Ada", acc.Get(c, "name"))
	assert.False(t, acc.Has("Secret"))
	assert.True(t, acc.Has("Orders"))

	// nil slices read as nil
	assert.Nil(t, acc.Get(c, "Orders"))

	err = acc.Set(c, "missing", 1)
	assert.Error(t, err)
}

func TestStructAccessor_AssociationValues(t *testing.T) {
	cAcc, err := NewStructAccessor(&customer{})
	require.NoError(t, err)
	oAcc, err := NewStructAccessor(&order{})
	require.NoError(t, err)

	c := &customer{}
	o := &order{}
	require.NoError(t, oAcc.Set(o, "Customer", Entity(c)))
	assert.Same(t, c, o.Customer)

	require.NoError(t, cAcc.Set(c, "Orders", []Entity{o}))
	require.Len(t, c.Orders, 1)
	assert.Same(t, o, c.Orders[0])

	require.NoError(t, oAcc.Set(o, "Customer", nil))
	assert.Nil(t, oAcc.Get(o, "Customer"))
}

func TestStructAccessor_RejectsNonPointer(t *testing.T) {
	_, err := NewStructAccessor(NewObject("X"))
	// *Object is a pointer to struct, so it is accepted.
	require.NoError(t, err)

	_, err = NewStructAccessor(nil)
	assert.Error(t, err)
}

func TestEntities(t *testing.T) {
	c := &customer{}
	o1, o2 := &order{}, &order{}
	var nilOrder *order

	assert.Nil(t, Entities(nil))
	assert.Nil(t, Entities(nilOrder))
	assert.Equal(t, []Entity{c}, Entities(c))
	assert.Equal(t, []Entity{o1, o2}, Entities([]*order{o1, nil, o2}))
	assert.Equal(t, []Entity{o1}, Entities([]Entity{o1, nil}))
	assert.Nil(t, Entities(42))
}

func TestRegistry_InheritanceFlattening(t *testing.T) {
	reg := NewRegistry()
	// Subtype registered before its parent.
	require.NoError(t, reg.RegisterObject(TypeMeta{
		Name:    "CardPayment",
		Extends: "Payment",
		Fields:  []Field{{Name: "last4", Kind: KindString}},
	}))
	require.NoError(t, reg.RegisterObject(TypeMeta{
		Name:         "Payment",
		Fields:       []Field{{Name: "id", Kind: KindInt}, {Name: "amount", Kind: KindFloat}},
		Identifier:   []string{"id"},
		Strategy:     IDPostInsert,
		Associations: []Association{{Field: "invoice", Target: "Invoice", Owning: true}},
	}))

	d, err := reg.Descriptor("CardPayment")
	require.NoError(t, err)
	assert.Equal(t, "Payment", d.Meta.RootName())
	assert.Equal(t, []string{"id"}, d.Meta.Identifier)
	assert.Equal(t, IDPostInsert, d.Meta.Strategy)
	assert.Equal(t, []string{"id", "amount", "last4", "invoice"}, d.Meta.PersistentFields())
	assert.Equal(t, "CardPayment", d.Meta.DiscriminatorValue())

	root, err := reg.Descriptor("Payment")
	require.NoError(t, err)
	assert.Equal(t, "Payment", root.Meta.RootName())
	assert.Equal(t, []string{"CardPayment"}, reg.Subtypes("Payment"))

	obj := d.New()
	assert.Equal(t, "CardPayment", obj.EntityType())
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterObject(TypeMeta{Name: "A"}))
	assert.Error(t, reg.RegisterObject(TypeMeta{Name: "A"}))
	assert.Error(t, reg.RegisterObject(TypeMeta{}))

	_, err := reg.Descriptor("B")
	var ute *UnknownTypeError
	require.ErrorAs(t, err, &ute)

	cyc := NewRegistry()
	require.NoError(t, cyc.RegisterObject(TypeMeta{Name: "X", Extends: "Y"}))
	require.NoError(t, cyc.RegisterObject(TypeMeta{Name: "Y", Extends: "X"}))
	assert.Error(t, cyc.Resolve())
}

func TestRegistry_StructTypes(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterStruct(TypeMeta{
		Name:       "Customer",
		Fields:     []Field{{Name: "id", Kind: KindInt}, {Name: "name", Kind: KindString}},
		Identifier: []string{"id"},
	}, &customer{}))

	d, err := reg.Descriptor("Customer")
	require.NoError(t, err)
	assert.Equal(t, IDAssigned, d.Meta.Strategy)

	c := d.New()
	require.IsType(t, &customer{}, c)
	require.NoError(t, d.Accessor.Set(c, "name", "Grace"))
	assert.Equal(t, "Grace", c.(*customer).Name)
}

func TestTypeMetaLookups(t *testing.T) {
	m := &TypeMeta{
		Name:       "Order",
		Fields:     []Field{{Name: "id", Kind: KindInt}},
		Identifier: []string{"id"},
		Associations: []Association{
			{Field: "customer", Target: "Customer", Owning: true},
			{Field: "lines", Target: "Line", ToMany: true},
		},
	}
	_, ok := m.Field("id")
	assert.True(t, ok)
	_, ok = m.Field("nope")
	assert.False(t, ok)
	assert.True(t, m.IsIdentifier("id"))
	assert.Len(t, m.OwningToOne(), 1)
	a, ok := m.Association("lines")
	require.True(t, ok)
	assert.False(t, a.OwningToOne())
	assert.True(t, KindTime.IsValid())
	assert.False(t, FieldKind("decimal").IsValid())
	assert.True(t, IDPostInsert.Deferred())
	assert.False(t, IDUUID.Deferred())
}
