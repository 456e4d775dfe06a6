// Package static implements the C5.b stage worker: run configured static
// analyzers over recon's sources, normalize their output, and ask the
// LLM router to summarize the aggregate.
package static

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/llm"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// Analyzer describes one configured static analyzer, invoked as an
// external command over a directory of source files (§4.C5.b:
// "treated as black boxes").
type Analyzer struct {
	Name    string
	Command []string // argv; "{dir}" is replaced with the checkout directory
	Timeout time.Duration
}

// Service implements static's §4.C5.b behaviour.
type Service struct {
	Analyzers []Analyzer
	LLM       llm.Backend // *llm.Router satisfies this; a fake suffices for tests
	Logger    *slog.Logger
	WorkDir   string
}

// analyzerOutput is the normalized JSON every configured analyzer is
// expected to emit on stdout: a flat list of findings.
type analyzerOutput struct {
	Findings []struct {
		Title       string `json:"title"`
		Severity    string `json:"severity"`
		Location    string `json:"location"`
		Description string `json:"description"`
	} `json:"findings"`
}

// Run implements the stage worker's /run contract.
func (s *Service) Run(ctx context.Context, req orchestrator.StageRequest) (stagepb.Result, error) {
	started := time.Now()
	recon, ok := req.PriorStageOutputs["recon"]
	if !ok || recon.Recon == nil {
		return stagepb.Result{}, errs.New(errs.InvalidRequest, "static stage requires a recon result")
	}

	dir, cleanup, err := materializeSources(s.WorkDir, recon.Recon.Sources)
	if err != nil {
		return stagepb.Result{}, err
	}
	defer cleanup()

	findings, partial := s.runAnalyzers(ctx, dir)

	summary := ""
	if s.LLM != nil && len(findings) > 0 {
		resp, err := s.LLM.Generate(ctx, llm.Task{
			TaskType: "smart_contract_analysis",
			Prompt:   summarizePrompt(findings),
		})
		if err != nil {
			s.logger().Warn("static summary generation failed", "error", err)
			partial = true
		} else {
			summary = resp.Text
		}
	}

	status := stagepb.StatusOK
	if partial {
		status = stagepb.StatusPartial
	}

	return stagepb.Result{
		Kind:       stagepb.KindStatic,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Static: &stagepb.StaticResult{
			RawFindings: findings,
			Summary:     summary,
		},
	}, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// runAnalyzers invokes every configured analyzer in parallel, each under
// its own timeout, merging their normalized output (§4.C5.b: "Fan-out
// inside a stage is permitted").
func (s *Service) runAnalyzers(ctx context.Context, dir string) ([]stagepb.RawFinding, bool) {
	var (
		mu       sync.Mutex
		findings []stagepb.RawFinding
		partial  bool
		wg       sync.WaitGroup
	)

	for _, a := range s.Analyzers {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()

			timeout := a.Timeout
			if timeout <= 0 {
				timeout = 60 * time.Second
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			out, err := runAnalyzer(runCtx, a, dir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger().Warn("analyzer failed", "analyzer", a.Name, "error", err)
				partial = true
				return
			}
			for _, f := range out.Findings {
				findings = append(findings, stagepb.RawFinding{
					Analyzer:    a.Name,
					Title:       f.Title,
					Severity:    f.Severity,
					Location:    f.Location,
					Description: f.Description,
				})
			}
		}()
	}
	wg.Wait()
	return findings, partial
}

func runAnalyzer(ctx context.Context, a Analyzer, dir string) (analyzerOutput, error) {
	if len(a.Command) == 0 {
		return analyzerOutput{}, errs.New(errs.Internal, "analyzer "+a.Name+" has no command configured")
	}
	args := make([]string, len(a.Command))
	for i, arg := range a.Command {
		if arg == "{dir}" {
			arg = dir
		}
		args[i] = arg
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout
	if err := cmd.Run(); err != nil {
		return analyzerOutput{}, err
	}

	var out analyzerOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return analyzerOutput{}, errs.Wrap(errs.Internal, "parsing analyzer output for "+a.Name, err)
	}
	return out, nil
}

func materializeSources(workDir string, sources []stagepb.ContractSource) (string, func(), error) {
	dir, err := os.MkdirTemp(workDir, "static-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	for _, src := range sources {
		path := filepath.Join(dir, src.Path)
		if path == "" {
			path = filepath.Join(dir, src.File)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			cleanup()
			return "", nil, err
		}
		if err := os.WriteFile(path, []byte(src.Source), 0o644); err != nil {
			cleanup()
			return "", nil, err
		}
	}
	return dir, cleanup, nil
}

func summarizePrompt(findings []stagepb.RawFinding) string {
	var b bytes.Buffer
	b.WriteString("Summarize and categorize the following static-analysis findings:\n")
	for _, f := range findings {
		b.WriteString("- [" + f.Analyzer + "] " + f.Severity + ": " + f.Title + " (" + f.Location + ")\n")
	}
	return b.String()
}
