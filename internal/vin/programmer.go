package vin

import "github.com/smazurov/camss/internal/hw"

// programmer writes destination addresses for one line into the engine's
// current-frame registers. It never reads or changes output state.
type programmer struct {
	regs   hw.Registers
	ch     hw.Channel
	planes int
}

// program points the engine at the planes of addr. Zero plane addresses are
// skipped so the previous value stays latched.
func (p programmer) program(addr [2]uint64) {
	if addr[0] != 0 {
		p.regs.SetPrimaryAddress(p.ch, addr[0])
	}
	if p.planes > 1 && addr[1] != 0 {
		p.regs.SetSecondaryAddress(p.ch, addr[1])
	}
}

// programBuffer points the engine at b.
func (p programmer) programBuffer(b *Buffer) {
	if b == nil {
		return
	}
	p.program(b.addr)
}

// park writes zero to every destination register of the line.
func (p programmer) park() {
	p.regs.SetPrimaryAddress(p.ch, 0)
	if p.planes > 1 {
		p.regs.SetSecondaryAddress(p.ch, 0)
	}
}
