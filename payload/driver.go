package payload

import (
	"context"

	"github.com/andelabs/ande-evm/internal/statecache"
	"github.com/andelabs/ande-evm/parallel"
	"github.com/andelabs/ande-evm/precompile"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// Driver is the Payload Driver: it selects execution mode, runs the
// parallel engine as a conflict-detection pass, and drives the externally
// supplied Builder through the authoritative sequential pass (spec.md
// §4.G — phase 1 keeps the parallel pass advisory only, see §9 open
// question 1).
type Driver struct {
	Identity    common.Address
	States      StateProviderFactory
	Headers     HeaderProvider
	Builders    BlockBuilderFactory
	Attestation AttestationSink // optional
	Proposer    ProposerGate    // optional

	ParallelConfig parallel.Config
	Duality        common.Address
	SignerCache    *parallel.SignerCache
}

// BuildBlock runs one full block-build cycle.
func (d *Driver) BuildBlock(ctx context.Context, attrs PayloadAttributes) (*Outcome, error) {
	if d.Proposer != nil {
		producer, err := d.Proposer.ProducerFor(ctx, attrs.ParentHash)
		if err != nil {
			return nil, err
		}
		if producer != d.Identity {
			return nil, ErrNotOurTurn
		}
	}

	parent, ok := d.Headers.Header(attrs.ParentHash)
	if !ok {
		return nil, ErrParentNotFound
	}
	if attrs.GasLimit == nil {
		return nil, ErrGasLimitMissing
	}

	state, err := d.States.LatestState()
	if err != nil {
		return nil, err
	}

	d.runParallelPass(attrs, state)

	builder, err := d.Builders.BuilderForNextBlock(state, parent, attrs)
	if err != nil {
		return nil, err
	}

	if err := builder.ApplyPreExecutionChanges(); err != nil {
		return nil, err
	}

	for i, tx := range attrs.Transactions {
		if _, err := builder.ExecuteTransaction(tx); err != nil {
			return nil, &BuilderError{TxIndex: i, Err: err}
		}
	}

	outcome, err := builder.Finish(state)
	if err != nil {
		return nil, err
	}

	d.attestAsync(ctx, parent.Number+1, outcome)

	return outcome, nil
}

// runParallelPass executes the conflict-detection pass. Its results are
// logged, not applied: the sequential Finish/ExecuteTransaction sequence
// above remains the sole source of truth for state transitions.
func (d *Driver) runParallelPass(attrs PayloadAttributes, state StateProvider) {
	cache := statecache.New(stateAdapter{state})
	reader := nonceReader{cache: cache}

	mvm := parallel.NewMVM()
	signers := d.SignerCache
	if signers == nil {
		signers = parallel.NewSignerCache()
	}

	blockAttrs := parallel.BlockAttrs{
		FeeRecipient: attrs.FeeRecipient,
		Transactions: attrs.Transactions,
		Signer:       attrs.Signer,
	}

	dualityAddr := d.Duality
	if dualityAddr == (common.Address{}) {
		dualityAddr = precompile.DualityAddress
	}

	analyzer := parallel.NewDependencyAnalyzer(signers, d.ParallelConfig)
	deps, err := analyzer.Analyze(blockAttrs)
	if err != nil {
		log.Warn("parallel pass: dependency analysis failed, skipping conflict pre-check", "err", err)
		return
	}

	exec := parallel.NewExecutor(d.ParallelConfig, mvm, signers, reader, dualityAddr)
	_, failed := exec.Execute(blockAttrs, deps)
	if len(failed) > 0 {
		log.Debug("parallel pass: transactions failed or unresolved within retry budget, sequential pass remains authoritative", "count", len(failed))
	}
}

// attestAsync publishes the optional attestation behind an errgroup
// boundary; any failure is logged, never returned, so attestation can never
// fail block production (spec.md §4.G/§7). blockNumber is the driver's own
// parent.Number+1, not whatever the Builder happened to stamp on Outcome, so
// attestation always cites the block actually being sealed.
func (d *Driver) attestAsync(ctx context.Context, blockNumber uint64, outcome *Outcome) {
	if d.Attestation == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := d.Attestation.Attest(gctx, blockNumber, outcome.BlockHash)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Warn("attestation failed, block production unaffected", "blockHash", outcome.BlockHash, "blockNumber", blockNumber, "err", err)
	}
}

// stateAdapter bridges payload.StateProvider to statecache.AccountReader.
type stateAdapter struct{ state StateProvider }

func (a stateAdapter) Account(addr common.Address) (statecache.Account, error) {
	view, err := a.state.Account(addr)
	if err != nil {
		return statecache.Account{}, err
	}
	return statecache.Account{Balance: view.Balance, Nonce: view.Nonce, Exists: view.Exists}, nil
}

// nonceReader adapts the cached account reader to parallel.AccountReader.
type nonceReader struct{ cache *statecache.Cache }

func (r nonceReader) GetNonce(addr common.Address) uint64 {
	acc, err := r.cache.Account(addr)
	if err != nil {
		return 0
	}
	return acc.Nonce
}
