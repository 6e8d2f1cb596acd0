package loaders

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/rlimit"
	"github.com/hpc/Spindle/pkg/logutil"
	"github.com/hpc/Spindle/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// minPacket is the smallest input the kernel accepts for a socket filter
// test run (one Ethernet header).
const minPacket = 14

// EbpfLoader loads every unit as a kernel-verified socket filter. A unit's
// entry runs its program once and checks it returns the unit index.
type EbpfLoader struct {
	count int
	progs []*ebpf.Program
}

func NewEbpfLoader(count int) (*EbpfLoader, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("loaders: removing memlock limit: %w", err)
	}
	return &EbpfLoader{count: count}, nil
}

func (l *EbpfLoader) Count() int { return l.count }

func (l *EbpfLoader) Load(i int) (types.Unit, error) {
	if err := checkIndex(i, l.count); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("unit_%d", i)
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name: name,
		Type: ebpf.SocketFilter,
		Instructions: asm.Instructions{
			asm.Mov.Imm(asm.R0, int32(i)),
			asm.Return(),
		},
		License: "GPL",
	})
	if err != nil {
		logutil.GetLogger().Error("loading program failed", zap.Int("unit", i), zap.Error(err))
		return nil, fmt.Errorf("loaders: loading %s: %w", name, err)
	}
	l.progs = append(l.progs, prog)
	return &ebpfUnit{index: i, name: name, prog: prog}, nil
}

func (l *EbpfLoader) Close() error {
	var err error
	for _, p := range l.progs {
		err = multierr.Append(err, p.Close())
	}
	l.progs = nil
	return err
}

type ebpfUnit struct {
	index int
	name  string
	prog  *ebpf.Program
}

func (u *ebpfUnit) Index() int   { return u.index }
func (u *ebpfUnit) Name() string { return u.name }

func (u *ebpfUnit) Entry() error {
	ret, err := u.prog.Run(&ebpf.RunOptions{Data: make([]byte, minPacket)})
	if err != nil {
		return fmt.Errorf("loaders: running %s: %w", u.name, err)
	}
	if ret != uint32(u.index) {
		return fmt.Errorf("loaders: %s returned %d", u.name, ret)
	}
	return nil
}
