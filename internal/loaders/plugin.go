package loaders

import (
	"fmt"
	"path/filepath"
	"plugin"

	"github.com/hpc/Spindle/pkg/types"
)

const entrySymbol = "Entry"

// PluginLoader opens prebuilt Go plugins named by formatting pattern with the
// unit index. Each plugin exports Entry as a func().
type PluginLoader struct {
	dir     string
	pattern string
	count   int
}

func NewPluginLoader(dir, pattern string, count int) *PluginLoader {
	return &PluginLoader{dir: dir, pattern: pattern, count: count}
}

func (l *PluginLoader) Count() int { return l.count }

func (l *PluginLoader) Path(i int) string {
	return filepath.Join(l.dir, fmt.Sprintf(l.pattern, i))
}

func (l *PluginLoader) Load(i int) (types.Unit, error) {
	if err := checkIndex(i, l.count); err != nil {
		return nil, err
	}
	path := l.Path(i)
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loaders: opening %s: %w", path, err)
	}
	sym, err := p.Lookup(entrySymbol)
	if err != nil {
		return nil, fmt.Errorf("loaders: %s: %w", path, err)
	}
	fn, ok := sym.(func())
	if !ok {
		return nil, fmt.Errorf("loaders: %s: %s is %T, want func()", path, entrySymbol, sym)
	}
	return &pluginUnit{index: i, name: filepath.Base(path), entry: fn}, nil
}

// Close is a no-op; the runtime cannot unload plugins.
func (l *PluginLoader) Close() error { return nil }

type pluginUnit struct {
	index int
	name  string
	entry func()
}

func (u *pluginUnit) Index() int   { return u.index }
func (u *pluginUnit) Name() string { return u.name }

func (u *pluginUnit) Entry() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loaders: %s entry panicked: %v", u.name, r)
		}
	}()
	u.entry()
	return nil
}
