package token

import (
	"github.com/ethereum/go-ethereum/common"
)

// Metadata is resolved token display information. The two lookups that feed
// it (name/symbol, decimals) are the only calls in the system whose failures
// are swallowed: absent metadata falls back to empty strings and zero.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// MetadataResolver resolves display metadata for a collateral address. The
// engine never resolves metadata itself; it receives this collaborator
// pre-populated by the host.
type MetadataResolver interface {
	Resolve(collateral common.Address) Metadata
}

// ContractChecker reports whether an address hosts contract code. Used by the
// registry to reject non-contract collaterals (the native sentinel is exempt).
type ContractChecker interface {
	IsContract(addr common.Address) bool
}

// PermissiveChecker accepts every address. Used when the host has no chain
// access and governance is trusted to whitelist real contracts.
type PermissiveChecker struct{}

func (PermissiveChecker) IsContract(common.Address) bool { return true }

// StaticResolver serves metadata from a fixed table.
type StaticResolver struct {
	entries map[common.Address]Metadata
}

func NewStaticResolver(entries map[common.Address]Metadata) *StaticResolver {
	if entries == nil {
		entries = make(map[common.Address]Metadata)
	}
	return &StaticResolver{entries: entries}
}

func (r *StaticResolver) Resolve(collateral common.Address) Metadata {
	if collateral == NativeAsset {
		return Metadata{Name: "Ether", Symbol: "ETH", Decimals: 18}
	}
	// Missing entries fall back to zero values.
	return r.entries[collateral]
}

// StaticChecker treats a fixed address set as contracts. Hosts with chain
// access substitute an eth_getCode-backed implementation.
type StaticChecker struct {
	contracts map[common.Address]bool
}

func NewStaticChecker(addrs ...common.Address) *StaticChecker {
	m := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		m[a] = true
	}
	return &StaticChecker{contracts: m}
}

func (c *StaticChecker) Add(addr common.Address) {
	c.contracts[addr] = true
}

func (c *StaticChecker) IsContract(addr common.Address) bool {
	return c.contracts[addr]
}
