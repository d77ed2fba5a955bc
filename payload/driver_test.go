package payload

import (
	"context"
	"errors"
	"testing"

	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testPrivKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f36231"

func signedTx(t *testing.T, to common.Address) *types.Transaction {
	t.Helper()
	priv, err := crypto.HexToECDSA(testPrivKey)
	require.NoError(t, err)
	tx := types.NewTransaction(0, to, big.NewInt(1000), 21000, big.NewInt(1), nil)
	signed, err := types.SignTx(tx, types.HomesteadSigner{}, priv)
	require.NoError(t, err)
	return signed
}

type fakeHeaders struct{ headers map[common.Hash]*Header }

func (f fakeHeaders) Header(hash common.Hash) (*Header, bool) {
	h, ok := f.headers[hash]
	return h, ok
}

type fakeBuilder struct {
	executed  []*types.Transaction
	finishErr error
	execErrAt *int
	outcome   *Outcome
}

func (b *fakeBuilder) ApplyPreExecutionChanges() error { return nil }
func (b *fakeBuilder) ExecuteTransaction(tx *types.Transaction) (uint64, error) {
	idx := len(b.executed)
	b.executed = append(b.executed, tx)
	if b.execErrAt != nil && idx == *b.execErrAt {
		return 0, errors.New("intrinsic gas exceeds block limit")
	}
	return 21000, nil
}
func (b *fakeBuilder) Finish(state StateProvider) (*Outcome, error) {
	if b.finishErr != nil {
		return nil, b.finishErr
	}
	return b.outcome, nil
}

type fakeBuilderFactory struct{ builder *fakeBuilder }

func (f fakeBuilderFactory) BuilderForNextBlock(state StateProvider, parent *Header, attrs PayloadAttributes) (Builder, error) {
	return f.builder, nil
}

type fakeStateFactory struct{ state StateProvider }

func (f fakeStateFactory) LatestState() (StateProvider, error) { return f.state, nil }

type fakeAttestation struct {
	called         bool
	err            error
	gotBlockNumber uint64
}

func (f *fakeAttestation) Attest(ctx context.Context, blockNumber uint64, blockHash common.Hash) (common.Hash, error) {
	f.called = true
	f.gotBlockNumber = blockNumber
	return common.Hash{}, f.err
}

func newTestDriver(t *testing.T, state StateProvider, builder *fakeBuilder, attest *fakeAttestation) (*Driver, common.Hash) {
	t.Helper()
	parentHash := common.HexToHash("0xaabb")
	headers := fakeHeaders{headers: map[common.Hash]*Header{
		parentHash: {Hash: parentHash, Number: 10},
	}}

	d := &Driver{
		States:   fakeStateFactory{state: state},
		Headers:  headers,
		Builders: fakeBuilderFactory{builder: builder},
	}
	if attest != nil {
		d.Attestation = attest
	}
	return d, parentHash
}

func gasLimit(n uint64) *uint64 { return &n }

func TestDriverBuildBlockHappyPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	state := NewMockStateProvider(ctrl)
	state.EXPECT().Account(gomock.Any()).Return(AccountView{Exists: true}, nil).AnyTimes()

	builder := &fakeBuilder{outcome: &Outcome{BlockHash: common.HexToHash("0xc0ffee"), GasUsed: 21000}}
	d, parentHash := newTestDriver(t, state, builder, nil)

	attrs := PayloadAttributes{
		ParentHash: parentHash,
		GasLimit:   gasLimit(30_000_000),
		Signer:     types.HomesteadSigner{},
	}

	outcome, err := d.BuildBlock(context.Background(), attrs)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xc0ffee"), outcome.BlockHash)
}

func TestDriverRejectsMissingParent(t *testing.T) {
	ctrl := gomock.NewController(t)
	state := NewMockStateProvider(ctrl)

	builder := &fakeBuilder{outcome: &Outcome{}}
	d, _ := newTestDriver(t, state, builder, nil)

	attrs := PayloadAttributes{ParentHash: common.HexToHash("0xdead"), GasLimit: gasLimit(1)}
	_, err := d.BuildBlock(context.Background(), attrs)
	require.ErrorIs(t, err, ErrParentNotFound)
}

func TestDriverRejectsMissingGasLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	state := NewMockStateProvider(ctrl)

	builder := &fakeBuilder{outcome: &Outcome{}}
	d, parentHash := newTestDriver(t, state, builder, nil)

	attrs := PayloadAttributes{ParentHash: parentHash}
	_, err := d.BuildBlock(context.Background(), attrs)
	require.ErrorIs(t, err, ErrGasLimitMissing)
}

func TestDriverProposerGateRejectsWrongProposer(t *testing.T) {
	ctrl := gomock.NewController(t)
	state := NewMockStateProvider(ctrl)

	builder := &fakeBuilder{outcome: &Outcome{}}
	d, parentHash := newTestDriver(t, state, builder, nil)
	d.Identity = common.HexToAddress("0x01")
	d.Proposer = fakeProposerGate{producer: common.HexToAddress("0x02")}

	attrs := PayloadAttributes{ParentHash: parentHash, GasLimit: gasLimit(1)}
	_, err := d.BuildBlock(context.Background(), attrs)
	require.ErrorIs(t, err, ErrNotOurTurn)
}

type fakeProposerGate struct{ producer common.Address }

func (f fakeProposerGate) ProducerFor(ctx context.Context, blockIdentifier common.Hash) (common.Address, error) {
	return f.producer, nil
}

func TestDriverBuilderFinishFailurePropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	state := NewMockStateProvider(ctrl)
	state.EXPECT().Account(gomock.Any()).Return(AccountView{}, nil).AnyTimes()

	builder := &fakeBuilder{finishErr: errors.New("state root mismatch"), outcome: &Outcome{}}
	d, parentHash := newTestDriver(t, state, builder, nil)

	to := common.HexToAddress("0x02")
	tx := signedTx(t, to)
	attrs := PayloadAttributes{
		ParentHash:   parentHash,
		GasLimit:     gasLimit(1),
		Transactions: []*types.Transaction{tx},
		Signer:       types.HomesteadSigner{},
	}

	_, err := d.BuildBlock(context.Background(), attrs)
	require.Error(t, err)
	require.Contains(t, err.Error(), "state root mismatch")
}

func TestDriverExecuteTransactionFailurePropagatesWithIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	state := NewMockStateProvider(ctrl)
	state.EXPECT().Account(gomock.Any()).Return(AccountView{}, nil).AnyTimes()

	zero := 0
	builder := &fakeBuilder{execErrAt: &zero, outcome: &Outcome{}}
	d, parentHash := newTestDriver(t, state, builder, nil)

	to := common.HexToAddress("0x02")
	tx := signedTx(t, to)
	attrs := PayloadAttributes{
		ParentHash:   parentHash,
		GasLimit:     gasLimit(1),
		Transactions: []*types.Transaction{tx},
		Signer:       types.HomesteadSigner{},
	}

	_, err := d.BuildBlock(context.Background(), attrs)
	var builderErr *BuilderError
	require.ErrorAs(t, err, &builderErr)
	require.Equal(t, 0, builderErr.TxIndex)
}

func TestDriverAttestationFailureDoesNotFailBuild(t *testing.T) {
	ctrl := gomock.NewController(t)
	state := NewMockStateProvider(ctrl)
	state.EXPECT().Account(gomock.Any()).Return(AccountView{}, nil).AnyTimes()

	builder := &fakeBuilder{outcome: &Outcome{BlockHash: common.HexToHash("0xc0ffee")}}
	attest := &fakeAttestation{err: errors.New("relay unreachable")}
	d, parentHash := newTestDriver(t, state, builder, attest)

	attrs := PayloadAttributes{ParentHash: parentHash, GasLimit: gasLimit(1), Signer: types.HomesteadSigner{}}
	outcome, err := d.BuildBlock(context.Background(), attrs)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.True(t, attest.called)
	require.Equal(t, uint64(11), attest.gotBlockNumber, "attestation must cite parent.Number+1, not a hardcoded 0")
}
