package types

// Unit is one independently loaded module with a single zero-argument entry
// point.
type Unit interface {
	Index() int
	Name() string
	Entry() error
}

// UnitLoader loads units by index. Callers load indices in ascending order.
type UnitLoader interface {
	Count() int
	Load(i int) (Unit, error)
	Close() error
}
