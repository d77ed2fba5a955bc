package parallel

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var hotAddr = common.HexToAddress("0x000000000000000000000000000000000000fd")

func TestMVMAdditionsCommuteUnderPermutation(t *testing.T) {
	amounts := []int64{10, 20, 30, 40, 50}

	run := func(order []int) *big.Int {
		m := NewMVM()
		for _, i := range order {
			m.AddLazyAddition(hotAddr, uint256.NewInt(uint64(amounts[i])), TxIndex(i))
		}
		changes := m.EvaluateLazy()
		return changes[hotAddr].BalanceChange.BigInt()
	}

	base := run([]int{0, 1, 2, 3, 4})
	shuffled := []int{4, 1, 3, 0, 2}
	other := run(shuffled)

	require.Equal(t, base.String(), other.String())
}

func TestMVMRetryReplacesNotAccumulates(t *testing.T) {
	m := NewMVM()
	m.AddLazyAddition(hotAddr, uint256.NewInt(100), TxIndex(0))
	m.AddLazyAddition(hotAddr, uint256.NewInt(999), TxIndex(0)) // retried incarnation, same tx_idx

	changes := m.EvaluateLazy()
	require.Equal(t, "999", changes[hotAddr].BalanceChange.String())
}

func TestMVMAdditionsAndSubtractionsNetOut(t *testing.T) {
	m := NewMVM()
	m.AddLazyAddition(hotAddr, uint256.NewInt(1000), TxIndex(0))
	m.AddLazySubtraction(hotAddr, uint256.NewInt(300), TxIndex(1))

	changes := m.EvaluateLazy()
	require.Equal(t, "700", changes[hotAddr].BalanceChange.String())
}

func TestMVMEvaluateDoesNotClear(t *testing.T) {
	m := NewMVM()
	m.AddLazyAddition(hotAddr, uint256.NewInt(42), TxIndex(0))

	first := m.EvaluateLazy()
	second := m.EvaluateLazy()
	require.Equal(t, first[hotAddr].BalanceChange.String(), second[hotAddr].BalanceChange.String())

	m.Clear()
	require.Empty(t, m.TouchedAccounts())
}

func TestMVMNonceIncrementsCount(t *testing.T) {
	m := NewMVM()
	m.SetBase(hotAddr, uint256.NewInt(0), 5)
	m.AddLazyNonceIncrement(hotAddr, TxIndex(0))
	m.AddLazyNonceIncrement(hotAddr, TxIndex(1))

	changes := m.EvaluateLazy()
	require.NotNil(t, changes[hotAddr].PostNonce)
	require.Equal(t, uint64(7), *changes[hotAddr].PostNonce)
}

func TestMVMConcurrentAdditionsAreSafe(t *testing.T) {
	m := NewMVM()
	var addrs [8]common.Address
	for i := range addrs {
		addrs[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}

	done := make(chan struct{})
	for w := 0; w < 16; w++ {
		go func(w int) {
			r := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 200; i++ {
				addr := addrs[r.Intn(len(addrs))]
				m.AddLazyAddition(addr, uint256.NewInt(1), TxIndex(w*1000+i))
			}
			done <- struct{}{}
		}(w)
	}
	for w := 0; w < 16; w++ {
		<-done
	}

	_ = m.EvaluateLazy()
}
