// Package fuzzing implements the C5.c stage worker: generate or run
// property tests against a checkout and record failed cases.
package fuzzing

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/llm"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// Harness describes the external fuzzing command run over a checkout
// directory containing sources plus any C2-generated property tests
// (§4.C5.c: "invoke a fuzzing harness" / "execute an existing test
// suite").
type Harness struct {
	Command []string // argv; "{dir}" is replaced with the checkout directory
	Timeout time.Duration
}

// Service implements fuzzing's §4.C5.c behaviour.
type Service struct {
	Harness               Harness
	LLM                   llm.Backend // *llm.Router satisfies this; a fake suffices for tests
	GeneratePropertyTests bool        // §4.C5.c path (a): ask C2 to draft property tests before invoking the harness
	Logger                *slog.Logger
	WorkDir               string
}

// harnessOutput is the normalized JSON the configured fuzzing harness
// is expected to emit on stdout.
type harnessOutput struct {
	FailedCases []struct {
		Property       string `json:"property"`
		Counterexample string `json:"counterexample"`
		Location       string `json:"location"`
	} `json:"failed_cases"`
	CoveragePercent *float64 `json:"coverage_percent"`
}

// Run implements the stage worker's /run contract.
func (s *Service) Run(ctx context.Context, req orchestrator.StageRequest) (stagepb.Result, error) {
	started := time.Now()
	recon, ok := req.PriorStageOutputs["recon"]
	if !ok || recon.Recon == nil || len(recon.Recon.Sources) == 0 {
		// §E2: an address-only target with no buildable harness from
		// recon is a legitimate "nothing to fuzz" case, not a failure.
		return stagepb.Result{
			Kind:       stagepb.KindFuzzing,
			Status:     stagepb.StatusOK,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Fuzzing:    &stagepb.FuzzingResult{},
		}, nil
	}

	dir, cleanup, err := materializeSources(s.WorkDir, recon.Recon.Sources)
	if err != nil {
		return stagepb.Result{}, err
	}
	defer cleanup()

	if s.GeneratePropertyTests && s.LLM != nil {
		if err := s.writePropertyTests(ctx, dir, recon.Recon); err != nil {
			s.logger().Warn("property test generation failed, falling back to existing test suite", "error", err)
		}
	}

	if len(s.Harness.Command) == 0 {
		return stagepb.Result{
			Kind:       stagepb.KindFuzzing,
			Status:     stagepb.StatusPartial,
			StartedAt:  started,
			Error:      "no fuzzing harness configured",
			FinishedAt: time.Now(),
			Fuzzing:    &stagepb.FuzzingResult{},
		}, nil
	}

	timeout := s.Harness.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := runHarness(runCtx, s.Harness, dir)
	status := stagepb.StatusOK
	errMsg := ""
	if err != nil {
		s.logger().Warn("fuzzing harness failed", "error", err)
		status = stagepb.StatusPartial
		errMsg = err.Error()
	}

	result := &stagepb.FuzzingResult{CoveragePercent: out.CoveragePercent}
	for _, c := range out.FailedCases {
		result.FailedCases = append(result.FailedCases, stagepb.FuzzCase{
			Property:       c.Property,
			Counterexample: c.Counterexample,
			Location:       c.Location,
		})
	}

	return stagepb.Result{
		Kind:       stagepb.KindFuzzing,
		Status:     status,
		Error:      errMsg,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Fuzzing:    result,
	}, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// writePropertyTests asks the C2 router to draft property tests for the
// entry contracts and writes the result alongside the checkout so the
// configured harness picks it up (§4.C5.c path a).
func (s *Service) writePropertyTests(ctx context.Context, dir string, recon *stagepb.ReconResult) error {
	resp, err := s.LLM.Generate(ctx, llm.Task{
		TaskType: "code_review",
		Prompt:   propertyTestPrompt(recon),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "generated_properties.t.sol"), []byte(resp.Text), 0o644)
}

func propertyTestPrompt(recon *stagepb.ReconResult) string {
	var b bytes.Buffer
	b.WriteString("Write property-based tests for these contract entry points: ")
	for i, e := range recon.EntryContracts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e)
	}
	return b.String()
}

func runHarness(ctx context.Context, h Harness, dir string) (harnessOutput, error) {
	args := make([]string, len(h.Command))
	for i, arg := range h.Command {
		if arg == "{dir}" {
			arg = dir
		}
		args[i] = arg
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout
	runErr := cmd.Run()

	var out harnessOutput
	if jsonErr := json.Unmarshal(stdout.Bytes(), &out); jsonErr != nil {
		if runErr != nil {
			return harnessOutput{}, runErr
		}
		return harnessOutput{}, errs.Wrap(errs.Internal, "parsing fuzzing harness output", jsonErr)
	}
	return out, nil
}

func materializeSources(workDir string, sources []stagepb.ContractSource) (string, func(), error) {
	dir, err := os.MkdirTemp(workDir, "fuzzing-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }
	for _, src := range sources {
		path := filepath.Join(dir, src.Path)
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
