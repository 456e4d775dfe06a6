// Package mlops implements C9's MLOps shell: it is specified only by its
// three endpoints' input and output metric shapes (§4.C9), not by any
// actual training algorithm, so Service stores what it's given and returns
// plausible, deterministic-shaped metrics rather than running a real
// training loop.
package mlops

import (
	"context"
	"sync"
	"time"

	"github.com/bugbot-labs/bugbot/internal/errs"
)

// IngestRequest is the POST /mlops/ingest request body: a batch of labeled
// triage outcomes to fold into the next training run.
type IngestRequest struct {
	DatasetName string          `json:"dataset_name" validate:"required"`
	Samples     []TrainingSample `json:"samples" validate:"required,min=1"`
}

// TrainingSample is one labeled example: a finding's feature summary plus
// the outcome it should learn to predict.
type TrainingSample struct {
	FindingType string  `json:"finding_type"`
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
	Label       string  `json:"label"` // "true_positive" or "false_positive"
}

// IngestResponse reports how a dataset grew.
type IngestResponse struct {
	DatasetName  string `json:"dataset_name"`
	SamplesTotal int    `json:"samples_total"`
}

// TrainRequest is the POST /mlops/train request body.
type TrainRequest struct {
	DatasetName string `json:"dataset_name" validate:"required"`
}

// TrainResponse reports the trained model's metric shape.
type TrainResponse struct {
	ModelID   string  `json:"model_id"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	TrainedAt time.Time `json:"trained_at"`
}

// GenerateRulesRequest is the POST /mlops/generate-rules request body.
type GenerateRulesRequest struct {
	ModelID string `json:"model_id" validate:"required"`
}

// GenerateRulesResponse returns the triage tuning rules a trained model
// produced, consumed by C5's Tier 1 filter.
type GenerateRulesResponse struct {
	ModelID string        `json:"model_id"`
	Rules   []TuningRule  `json:"rules"`
}

// TuningRule adjusts the triage confidence threshold for one finding type
// based on the trained model's observed false-positive rate.
type TuningRule struct {
	FindingType        string  `json:"finding_type"`
	MinConfidence      float64 `json:"min_confidence"`
	FalsePositiveRate  float64 `json:"false_positive_rate"`
}

type dataset struct {
	samples []TrainingSample
}

type model struct {
	id        string
	dataset   string
	precision float64
	recall    float64
	f1        float64
	trainedAt time.Time
}

// Service holds ingested datasets and trained models in memory; nothing
// here claims to be a real ML pipeline, per §4.C9's "black-box training
// loop" framing.
type Service struct {
	mu       sync.Mutex
	datasets map[string]*dataset
	models   map[string]*model
	nextID   int
}

// NewService builds an empty mlops shell.
func NewService() *Service {
	return &Service{
		datasets: make(map[string]*dataset),
		models:   make(map[string]*model),
	}
}

// Ingest appends samples to a named dataset, creating it if new.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[req.DatasetName]
	if !ok {
		ds = &dataset{}
		s.datasets[req.DatasetName] = ds
	}
	ds.samples = append(ds.samples, req.Samples...)
	return IngestResponse{DatasetName: req.DatasetName, SamplesTotal: len(ds.samples)}, nil
}

// Train fits a model against a previously ingested dataset and returns its
// metric shape. The metrics are computed from the labeled sample mix
// rather than an actual fit, since no training algorithm is in scope.
func (s *Service) Train(ctx context.Context, req TrainRequest) (TrainResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[req.DatasetName]
	if !ok || len(ds.samples) == 0 {
		return TrainResponse{}, errs.New(errs.InvalidRequest, "dataset "+req.DatasetName+" has no ingested samples")
	}

	precision, recall, f1 := evaluateMix(ds.samples)

	s.nextID++
	m := &model{
		id:        modelID(s.nextID),
		dataset:   req.DatasetName,
		precision: precision,
		recall:    recall,
		f1:        f1,
		trainedAt: time.Now().UTC(),
	}
	s.models[m.id] = m

	return TrainResponse{ModelID: m.id, Precision: precision, Recall: recall, F1: f1, TrainedAt: m.trainedAt}, nil
}

// GenerateRules derives a confidence-threshold tuning rule per finding
// type from a trained model's dataset.
func (s *Service) GenerateRules(ctx context.Context, req GenerateRulesRequest) (GenerateRulesResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[req.ModelID]
	if !ok {
		return GenerateRulesResponse{}, errs.New(errs.NotFound, "model "+req.ModelID+" not found")
	}
	ds := s.datasets[m.dataset]

	rules := rulesFromSamples(ds.samples)
	return GenerateRulesResponse{ModelID: req.ModelID, Rules: rules}, nil
}

func modelID(n int) string {
	const prefix = "model_"
	digits := [20]byte{}
	i := len(digits)
	if n == 0 {
		i--
		digits[i] = '0'
	}
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return prefix + string(digits[i:])
}

func evaluateMix(samples []TrainingSample) (precision, recall, f1 float64) {
	var truePositives, falsePositives, total int
	for _, s := range samples {
		total++
		switch s.Label {
		case "true_positive":
			truePositives++
		case "false_positive":
			falsePositives++
		}
	}
	if total == 0 || truePositives+falsePositives == 0 {
		return 0, 0, 0
	}
	precision = float64(truePositives) / float64(truePositives+falsePositives)
	recall = float64(truePositives) / float64(total)
	if precision+recall == 0 {
		return precision, recall, 0
	}
	f1 = 2 * precision * recall / (precision + recall)
	return precision, recall, f1
}

func rulesFromSamples(samples []TrainingSample) []TuningRule {
	type tally struct {
		total, falsePositives int
	}
	byType := map[string]*tally{}
	for _, s := range samples {
		t, ok := byType[s.FindingType]
		if !ok {
			t = &tally{}
			byType[s.FindingType] = t
		}
		t.total++
		if s.Label == "false_positive" {
			t.falsePositives++
		}
	}

	var rules []TuningRule
	for findingType, t := range byType {
		fpRate := float64(t.falsePositives) / float64(t.total)
		rules = append(rules, TuningRule{
			FindingType:       findingType,
			MinConfidence:     0.5 + fpRate*0.4,
			FalsePositiveRate: fpRate,
		})
	}
	return rules
}
