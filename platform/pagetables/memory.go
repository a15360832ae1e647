package pagetables

// Memory gives read access to the page tables in physical memory.
//
// The walker never writes through the returned tables.
type Memory interface {
	// LookupPTEs returns the table stored at the physical address.
	LookupPTEs(physical uint64) (*PTEs, error)
}

// GuardOracle tells deliberately unmapped pages apart from plain holes.
type GuardOracle interface {
	IsGuardPage(address uint64) bool
}
