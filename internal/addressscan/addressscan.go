// Package addressscan implements C8: binding an address-only scan
// request onto the existing static stage worker by resolving the address
// to a chain, fetching its verified source (or decompiling it), and
// dispatching that source to the static stage exactly as the recon stage
// would have.
package addressscan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/explorer"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

// DecompileAdapter is invoked when no verified source exists and the
// caller set force_decompile=true (§4.C8 step 3).
type DecompileAdapter interface {
	Decompile(ctx context.Context, address, chain string) ([]explorer.SourceFile, error)
}

// SourceFetcher is the subset of *explorer.Client the address scanner
// depends on, narrowed to an interface so step 2 of the flow can be
// exercised against a fake explorer in tests.
type SourceFetcher interface {
	FetchSourceCode(ctx context.Context, address string) ([]explorer.SourceFile, error)
}

// Service implements the C8 flow.
type Service struct {
	Config           *config.Config
	Explorers        map[string]SourceFetcher // by chain
	DecompileAdapter DecompileAdapter
	StaticClient     *orchestrator.StageClient
}

// Request is the POST /scan-address request body.
type Request struct {
	Address        string `json:"address" validate:"required"`
	Chain          string `json:"chain,omitempty"`
	ForceDecompile bool   `json:"force_decompile,omitempty"`
}

// Result is the POST /scan-address response body. Exactly one of
// StageResult or Suggestion is populated, selected by Status.
type Result struct {
	Status      string          `json:"status"` // "ok" or "source_not_found"
	Suggestion  string          `json:"suggestion,omitempty"`
	Chain       string          `json:"chain,omitempty"`
	StageResult *stagepb.Result `json:"stage_result,omitempty"`
}

// ResolveChain implements §4.C8 step 1: honor an explicit chain hint,
// otherwise infer from the address format, failing with an
// invalid_request error on an unsupported chain or an unresolved/ambiguous
// address.
func ResolveChain(cfg *config.Config, address, chainHint string) (string, error) {
	if chainHint != "" {
		if !config.IsSupportedChain(chainHint) {
			return "", errs.New(errs.InvalidRequest, "chain "+chainHint+" is not in the supported chain set")
		}
		return chainHint, nil
	}

	matches := cfg.DetectChain(address)
	switch len(matches) {
	case 0:
		return "", errs.New(errs.InvalidRequest, "could not infer chain from address format; specify chain explicitly")
	case 1:
		return matches[0], nil
	default:
		return "", errs.New(errs.InvalidRequest, fmt.Sprintf("address format is ambiguous between %s; specify chain explicitly", strings.Join(matches, ", ")))
	}
}

// ScanAddress implements §4.C8 steps 2-4.
func (s *Service) ScanAddress(ctx context.Context, req Request) (Result, error) {
	chain, err := ResolveChain(s.Config, req.Address, req.Chain)
	if err != nil {
		return Result{}, err
	}

	explorerClient, ok := s.Explorers[chain]
	if !ok {
		return Result{}, errs.New(errs.BackendUnavailable, "no explorer configured for chain "+chain)
	}

	var sources []stagepb.ContractSource
	files, fetchErr := explorerClient.FetchSourceCode(ctx, req.Address)
	if fetchErr != nil {
		if !req.ForceDecompile {
			return Result{
				Status:     "source_not_found",
				Suggestion: "no verified source found for this address; retry with force_decompile=true to attempt bytecode-level analysis",
				Chain:      chain,
			}, nil
		}

		decompiled, decompileErr := s.DecompileAdapter.Decompile(ctx, req.Address, chain)
		if decompileErr != nil {
			return Result{}, errs.Wrap(errs.BackendUnavailable, "decompile adapter failed", decompileErr)
		}
		for _, f := range decompiled {
			sources = append(sources, stagepb.ContractSource{
				File:     f.Name,
				Path:     f.Name,
				Language: "evm-bytecode",
				Source:   f.Content,
			})
		}
	} else {
		for _, f := range files {
			sources = append(sources, stagepb.ContractSource{
				File:     f.Name,
				Path:     f.Name,
				Language: languageFromFilename(f.Name),
				Source:   f.Content,
			})
		}
	}

	recon := stagepb.ReconResult{
		Sources:        sources,
		EntryContracts: []string{req.Address},
		ABIs: []stagepb.ContractABI{
			{Address: req.Address, Name: req.Address},
		},
	}

	stageReq := orchestrator.StageRequest{
		ScanID: "addrscan_" + uuid.NewString(),
		Chain:  chain,
		Target: store.Target{
			Address:        req.Address,
			Chain:          chain,
			ForceDecompile: req.ForceDecompile,
		},
		ScanConfig: store.ScanConfig{},
		PriorStageOutputs: map[string]stagepb.Result{
			"recon": {Kind: stagepb.KindRecon, Status: stagepb.StatusOK, Recon: &recon},
		},
	}

	resp, err := s.StaticClient.Run(ctx, stageReq)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: "ok", Chain: chain, StageResult: &resp.Result}, nil
}

func languageFromFilename(name string) string {
	switch filepath.Ext(name) {
	case ".vy":
		return "vyper"
	case ".rs":
		return "rust"
	case ".cairo":
		return "cairo"
	default:
		return "solidity"
	}
}
