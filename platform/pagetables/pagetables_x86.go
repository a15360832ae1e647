package pagetables

import (
	c "pagingaudit/commons"
)

// Bits in page table entries.
const (
	present  = 0x001
	writable = 0x002
	user     = 0x004
	accessed = 0x020
	super    = 0x080

	// addrMask keeps bits 12 to 51, the frame address of any level.
	addrMask   = 0x000ffffffffff000
	optionMask = executeDisable | 0xfff
)

// PTE is a raw page table entry as found in memory.
type PTE uint64

// Valid returns true iff this entry is present.
func (p PTE) Valid() bool {
	return p&present != 0
}

// IsSuper returns true iff this entry maps a 1G or 2M page. At level 1 the
// bit means PAT instead and the walker never asks.
func (p PTE) IsSuper() bool {
	return p&super != 0
}

// Address extracts the frame address. Only meaningful if Valid returns true.
func (p PTE) Address() uint64 {
	return uint64(p) & addrMask
}

// Flags extracts the entry's flags.
func (p PTE) Flags() uint64 {
	return uint64(p) & optionMask
}

func (p PTE) Writable() bool       { return p&writable != 0 }
func (p PTE) User() bool           { return p&user != 0 }
func (p PTE) ExecuteDisable() bool { return p&executeDisable != 0 }

// Rights converts the entry's protection into the common representation.
func (p PTE) Rights() uint8 {
	if !p.Valid() {
		return c.U_VAL
	}
	prot := c.R_VAL
	if p.Writable() {
		prot |= c.W_VAL
	}
	if !p.ExecuteDisable() {
		prot |= c.X_VAL
	}
	if p.User() {
		prot |= c.USER_VAL
	}
	return prot
}

// ConvertOpts converts the common protections into page table bits.
func ConvertOpts(prot uint8) uint64 {
	val := uint64(accessed)
	if prot&c.X_VAL == 0 {
		val |= executeDisable
	}
	if prot&c.W_VAL != 0 {
		val |= writable
	}
	if prot&c.R_VAL == c.R_VAL {
		val |= present
	}
	if prot&c.USER_VAL == c.USER_VAL {
		val |= user
	}
	return val
}

// MakePTE builds an entry pointing at addr with the given flags.
func MakePTE(addr, flags uint64) PTE {
	return PTE((addr & addrMask) | (flags & optionMask))
}

// MakeSuper builds a 1G or 2M leaf entry.
func MakeSuper(addr, flags uint64) PTE {
	return MakePTE(addr, flags) | super
}
