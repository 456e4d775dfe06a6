// Package recon implements the C5.a stage worker: resolve a scan target
// to a set of contract sources and a surface map, or attach a verified
// ABI when the target is a deployed address.
package recon

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bugbot-labs/bugbot/internal/explorer"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// Service implements recon's §4.C5.a behaviour.
type Service struct {
	// Explorer resolves a chain name to the Client that talks to its
	// block explorer; nil if no explorer is configured for that chain.
	Explorer func(chain string) *explorer.Client
	Logger   *slog.Logger
	WorkDir  string // parent directory shallow clones are created under
}

// Run implements the stage worker's /run contract.
func (s *Service) Run(ctx context.Context, req orchestrator.StageRequest) (stagepb.Result, error) {
	started := time.Now()
	recon := &stagepb.ReconResult{}
	status := stagepb.StatusOK

	switch {
	case req.Target.GitURL != "":
		dir, cleanup, err := cloneRepo(ctx, req.Target.GitURL, s.WorkDir)
		if err != nil {
			return stagepb.Result{}, err
		}
		defer cleanup()

		sources, entries, err := enumerateSources(dir)
		if err != nil {
			return stagepb.Result{}, err
		}
		recon.Sources = sources
		recon.EntryContracts = entries

	case req.Target.LocalPath != "":
		sources, entries, err := enumerateSources(req.Target.LocalPath)
		if err != nil {
			return stagepb.Result{}, err
		}
		recon.Sources = sources
		recon.EntryContracts = entries

	case req.Target.Address != "":
		recon.SurfaceMapNotes = "address-only target: no source checkout, ABI fetched from explorer"
	}

	if req.Target.Address != "" && s.Explorer != nil {
		client := s.Explorer(req.Chain)
		if client != nil {
			info, err := client.FetchABI(ctx, req.Target.Address)
			if err != nil {
				s.logger().Warn("explorer ABI fetch failed, proceeding without it", "address", req.Target.Address, "error", err)
				status = stagepb.StatusPartial
			} else {
				recon.ABIs = append(recon.ABIs, stagepb.ContractABI{
					Address: info.Address,
					Name:    info.Name,
					ABIJSON: info.ABIJSON,
				})
				if len(recon.EntryContracts) == 0 {
					recon.EntryContracts = []string{info.Name}
				}
			}
		}
	}

	return stagepb.Result{
		Kind:       stagepb.KindRecon,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Recon:      recon,
	}, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// cloneRepo performs a shallow, HEAD-only clone (§4.C5.a: "shallow-clone,
// depth 1, only the referenced ref"), returning the checkout directory
// and a cleanup func that removes it.
func cloneRepo(ctx context.Context, gitURL, workDir string) (string, func(), error) {
	dir, err := os.MkdirTemp(workDir, "recon-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", gitURL, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return "", nil, &cloneError{gitURL: gitURL, output: string(out), err: err}
	}
	return dir, cleanup, nil
}

type cloneError struct {
	gitURL string
	output string
	err    error
}

func (e *cloneError) Error() string {
	return "recon: clone " + e.gitURL + " failed: " + e.err.Error() + ": " + strings.TrimSpace(e.output)
}

func (e *cloneError) Unwrap() error { return e.err }

var importRe = regexp.MustCompile(`import\s+(?:"([^"]+)"|\{[^}]*\}\s*from\s*"([^"]+)")`)
var contractNameRe = regexp.MustCompile(`\bcontract\s+(\w+)`)

// enumerateSources walks dir and produces recon's surface map: every
// .sol/.vy file plus any directory containing a Cargo.toml, by Solana
// program convention (§4.C5.a).
func enumerateSources(dir string) ([]stagepb.ContractSource, []string, error) {
	var sources []stagepb.ContractSource
	imported := make(map[string]bool)
	contracts := make(map[string]bool)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		switch {
		case strings.HasSuffix(path, ".sol"):
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			content := string(data)
			var imports []string
			for _, m := range importRe.FindAllStringSubmatch(content, -1) {
				target := m[1]
				if target == "" {
					target = m[2]
				}
				if target != "" {
					imports = append(imports, target)
					imported[filepath.Base(target)] = true
				}
			}
			for _, m := range contractNameRe.FindAllStringSubmatch(content, -1) {
				contracts[m[1]] = true
			}
			sources = append(sources, stagepb.ContractSource{
				File:     filepath.Base(path),
				Path:     rel,
				Language: "solidity",
				Imports:  imports,
				Source:   content,
			})
		case strings.HasSuffix(path, ".vy"):
			data, _ := os.ReadFile(path)
			sources = append(sources, stagepb.ContractSource{
				File:     filepath.Base(path),
				Path:     rel,
				Language: "vyper",
				Source:   string(data),
			})
		case filepath.Base(path) == "Cargo.toml":
			data, _ := os.ReadFile(path)
			sources = append(sources, stagepb.ContractSource{
				File:     "Cargo.toml",
				Path:     rel,
				Language: "rust",
				Source:   string(data),
			})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var entries []string
	for name := range contracts {
		base := name + ".sol"
		if !imported[base] {
			entries = append(entries, name)
		}
	}
	sort.Strings(entries)
	return sources, entries, nil
}
