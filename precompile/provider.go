package precompile

import (
	"github.com/ethereum/go-ethereum/common"
)

// Provider is the address-dispatch facade composing the Token-Duality
// precompile with an injected standard Ethereum precompile set (spec.md
// §4.H). It owns no state of its own beyond which address ranges are active.
type Provider struct {
	duality  *DualityContract
	standard StandardPrecompiles
}

// NewProvider builds a Provider. standard may be nil, in which case only the
// duality address is dispatchable — useful for tests exercising the duality
// contract in isolation.
func NewProvider(duality *DualityContract, standard StandardPrecompiles) *Provider {
	return &Provider{duality: duality, standard: standard}
}

// Contains reports whether addr is dispatchable by this provider.
func (p *Provider) Contains(addr common.Address) bool {
	if addr == DualityAddress {
		return true
	}
	return p.standard != nil && p.standard.Contains(addr)
}

// RequiredGas reports the gas cost of calling addr with input.
func (p *Provider) RequiredGas(addr common.Address, input []byte) uint64 {
	if addr == DualityAddress {
		return RequiredGas
	}
	if p.standard == nil {
		return 0
	}
	return p.standard.RequiredGas(addr, input)
}

// Run dispatches a call to addr, routing to the duality contract or the
// standard set by address.
func (p *Provider) Run(addr common.Address, journal Journal, caller common.Address, input []byte, suppliedGas uint64, readOnly bool) ([]byte, uint64, error) {
	if addr == DualityAddress {
		return p.duality.Run(journal, caller, input, suppliedGas, readOnly)
	}
	if p.standard == nil {
		return nil, suppliedGas, ErrInvalidInputLength
	}
	gas := p.standard.RequiredGas(addr, input)
	if suppliedGas < gas {
		return nil, suppliedGas, ErrInsufficientGas
	}
	out, err := p.standard.Run(addr, input)
	return out, suppliedGas - gas, err
}

// WarmAddresses returns every address this provider would pre-warm in the
// access list: the duality address first, then the active standard set
// (spec.md §4.H: "warm_addresses = duality address unioned with the standard
// set's own warm addresses").
func (p *Provider) WarmAddresses() []common.Address {
	addrs := []common.Address{DualityAddress}
	if p.standard != nil {
		addrs = append(addrs, p.standard.WarmAddresses()...)
	}
	return addrs
}

// SetSpec swaps the active standard precompile set for a hardfork name,
// leaving the duality entry untouched, and reports whether anything changed.
func (p *Provider) SetSpec(name string) bool {
	if p.standard == nil {
		return false
	}
	return p.standard.SetSpec(name)
}
