package precompile

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
)

// StandardPrecompiles is the external Ethereum precompile set the provider
// composes with (spec.md §4.H). It is consumed as an injected interface
// rather than reimplemented — this module's own non-goal is "no cryptography
// beyond a message digest and signer recovery" — but a default implementation
// wrapping go-ethereum's own precompiled-contract maps is provided so the
// provider is usable standalone, in the spirit of the teacher's
// wrappedPrecompiledContract pattern (core/vm/contracts_stateful.go).
type StandardPrecompiles interface {
	Contains(addr common.Address) bool
	RequiredGas(addr common.Address, input []byte) uint64
	Run(addr common.Address, input []byte) ([]byte, error)
	WarmAddresses() []common.Address
	// SetSpec swaps the active precompile set for a hardfork name, reporting
	// whether the active set actually changed.
	SetSpec(name string) bool
}

// gethPrecompiles is the default StandardPrecompiles backed directly by
// go-ethereum/core/vm's precompiled-contract maps.
type gethPrecompiles struct {
	active map[common.Address]vm.PrecompiledContract
	spec   string
}

var specSets = map[string]map[common.Address]vm.PrecompiledContract{
	"homestead": vm.PrecompiledContractsHomestead,
	"byzantium": vm.PrecompiledContractsByzantium,
	"istanbul":  vm.PrecompiledContractsIstanbul,
	"berlin":    vm.PrecompiledContractsBerlin,
	"cancun":    vm.PrecompiledContractsCancun,
}

// NewGethPrecompiles builds the default StandardPrecompiles, active on the
// named hardfork's set (falling back to "berlin" for an unrecognized name).
func NewGethPrecompiles(spec string) StandardPrecompiles {
	p := &gethPrecompiles{}
	if !p.SetSpec(spec) {
		p.SetSpec("berlin")
	}
	return p
}

func (p *gethPrecompiles) SetSpec(name string) bool {
	set, ok := specSets[name]
	if !ok {
		return false
	}
	if p.spec == name {
		return false
	}
	p.active = set
	p.spec = name
	return true
}

func (p *gethPrecompiles) Contains(addr common.Address) bool {
	_, ok := p.active[addr]
	return ok
}

func (p *gethPrecompiles) RequiredGas(addr common.Address, input []byte) uint64 {
	c, ok := p.active[addr]
	if !ok {
		return 0
	}
	return c.RequiredGas(input)
}

func (p *gethPrecompiles) Run(addr common.Address, input []byte) ([]byte, error) {
	c, ok := p.active[addr]
	if !ok {
		return nil, ErrInvalidInputLength
	}
	return c.Run(input)
}

func (p *gethPrecompiles) WarmAddresses() []common.Address {
	addrs := make([]common.Address, 0, len(p.active))
	for addr := range p.active {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i].Bytes(), addrs[j].Bytes()) < 0 })
	return addrs
}
