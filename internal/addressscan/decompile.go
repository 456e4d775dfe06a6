package addressscan

import (
	"context"
	"fmt"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/explorer"
	"github.com/bugbot-labs/bugbot/internal/rpcpool"
)

// BytecodeDumpAdapter is the bundled DecompileAdapter: it has no real
// decompiler (none of the pack's examples carry one), so it fetches the
// deployed bytecode via the RPC pool and hands it to the static stage as
// a single annotated source file. This gives the static stage's
// LLM-summary path something to reason about even with no verified
// source, short of pulling in an actual EVM decompiler.
type BytecodeDumpAdapter struct {
	Pools map[string]*rpcpool.Pool // by chain
}

// Decompile fetches the bytecode deployed at address on chain.
func (a *BytecodeDumpAdapter) Decompile(ctx context.Context, address, chain string) ([]explorer.SourceFile, error) {
	pool, ok := a.Pools[chain]
	if !ok {
		return nil, errs.New(errs.BackendUnavailable, "no rpc pool configured for chain "+chain)
	}

	code, err := pool.Client().GetCode(ctx, address, "latest")
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "fetching bytecode for decompilation", err)
	}
	if code == "" || code == "0x" {
		return nil, errs.New(errs.NotFound, "no bytecode deployed at address")
	}

	content := fmt.Sprintf(
		"// no decompiler available; raw deployed bytecode for manual review\n// address: %s chain: %s\n%s\n",
		address, chain, code,
	)
	return []explorer.SourceFile{{Name: address + ".bytecode", Content: content}}, nil
}
