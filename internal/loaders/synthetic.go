package loaders

import (
	"fmt"
	"hash/fnv"

	"github.com/hpc/Spindle/pkg/types"
)

// SyntheticLoader generates units in memory. Loading a unit builds its
// symbol table, so load cost grows with the number of functions per unit.
type SyntheticLoader struct {
	count int
	funcs int
}

func NewSyntheticLoader(count, funcs int) *SyntheticLoader {
	return &SyntheticLoader{count: count, funcs: funcs}
}

func (l *SyntheticLoader) Count() int { return l.count }

func (l *SyntheticLoader) Load(i int) (types.Unit, error) {
	if err := checkIndex(i, l.count); err != nil {
		return nil, err
	}
	u := &syntheticUnit{
		index:   i,
		name:    fmt.Sprintf("libmodule%d", i),
		symbols: make(map[string]uint64, l.funcs+1),
		order:   make([]string, 0, l.funcs),
	}
	for j := 0; j < l.funcs; j++ {
		name := fmt.Sprintf("libmodule%d_func%d", i, j)
		u.symbols[name] = symbolHash(name)
		u.order = append(u.order, name)
	}
	u.entry = fmt.Sprintf("libmodule%d_entry", i)
	u.symbols[u.entry] = symbolHash(u.entry)
	return u, nil
}

func (l *SyntheticLoader) Close() error { return nil }

type syntheticUnit struct {
	index   int
	name    string
	entry   string
	symbols map[string]uint64
	order   []string

	calls    int
	checksum uint64
}

func (u *syntheticUnit) Index() int   { return u.index }
func (u *syntheticUnit) Name() string { return u.name }

// Entry resolves the entry symbol and walks the functions it reaches.
func (u *syntheticUnit) Entry() error {
	sum, ok := u.symbols[u.entry]
	if !ok {
		return fmt.Errorf("loaders: %s has no entry symbol", u.name)
	}
	for _, name := range u.order {
		sum ^= u.symbols[name]
	}
	u.checksum = sum
	u.calls++
	return nil
}

func symbolHash(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
