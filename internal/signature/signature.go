// Package signature implements C9's signature generator: thin
// transformations of a triaged finding into detection-rule formats other
// security tooling consumes directly.
package signature

import (
	"fmt"
	"strings"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// Format names a supported signature output (§4.C9: "4 outputs").
type Format string

const (
	FormatYARA       Format = "yara"
	FormatSigma      Format = "sigma"
	FormatSuricata   Format = "suricata"
	FormatCustomJSON Format = "custom-json"
)

var allFormats = []Format{FormatYARA, FormatSigma, FormatSuricata, FormatCustomJSON}

// GenerateRequest is the POST /signatures/generate request body.
type GenerateRequest struct {
	Finding stagepb.TriagedFinding `json:"finding" validate:"required"`
}

// Output is one generated signature, self-describing via Format and Name.
type Output struct {
	Format Format `json:"format"`
	Name   string `json:"name"`
	Body   string `json:"body"`
}

// GenerateResponse is the POST /signatures/generate response body.
type GenerateResponse struct {
	FindingID string   `json:"finding_id"`
	Outputs   []Output `json:"outputs"`
}

// Generate renders all four signature formats for finding.
func Generate(finding stagepb.TriagedFinding) GenerateResponse {
	outputs := make([]Output, 0, len(allFormats))
	for _, f := range allFormats {
		outputs = append(outputs, render(f, finding))
	}
	return GenerateResponse{FindingID: finding.FindingID, Outputs: outputs}
}

func render(format Format, finding stagepb.TriagedFinding) Output {
	switch format {
	case FormatYARA:
		return Output{Format: format, Name: ruleName(finding) + ".yar", Body: renderYARA(finding)}
	case FormatSigma:
		return Output{Format: format, Name: ruleName(finding) + ".sigma.yml", Body: renderSigma(finding)}
	case FormatSuricata:
		return Output{Format: format, Name: ruleName(finding) + ".rules", Body: renderSuricata(finding)}
	default:
		return Output{Format: FormatCustomJSON, Name: ruleName(finding) + ".json", Body: renderCustomJSON(finding)}
	}
}

func ruleName(finding stagepb.TriagedFinding) string {
	id := finding.FindingID
	if id == "" {
		id = "unidentified"
	}
	name := strings.NewReplacer("-", "_", " ", "_").Replace(id)
	return "bugbot_" + name
}

func renderYARA(finding stagepb.TriagedFinding) string {
	return fmt.Sprintf(`rule %s
{
    meta:
        finding_id = "%s"
        type = "%s"
        severity = "%s"
        description = "%s"
    strings:
        $pattern = "%s"
    condition:
        $pattern
}
`, ruleName(finding), finding.FindingID, finding.Type, finding.Severity, escapeQuotes(finding.Title), escapeQuotes(finding.Location))
}

func renderSigma(finding stagepb.TriagedFinding) string {
	return fmt.Sprintf(`title: %s
id: %s
status: experimental
description: %s
logsource:
    category: smart_contract
detection:
    selection:
        finding.type: %s
    condition: selection
level: %s
`, finding.Title, finding.FindingID, finding.Description, finding.Type, sigmaLevel(finding.Severity))
}

func renderSuricata(finding stagepb.TriagedFinding) string {
	return fmt.Sprintf(`alert tcp any any -> any any (msg:"bugbot %s %s"; content:"%s"; sid:%s; rev:1;)
`, finding.Type, finding.Severity, escapeQuotes(finding.Location), suricataSID(finding.FindingID))
}

func renderCustomJSON(finding stagepb.TriagedFinding) string {
	return fmt.Sprintf(`{"finding_id":%q,"type":%q,"severity":%q,"title":%q,"description":%q,"location":%q}`,
		finding.FindingID, finding.Type, finding.Severity, finding.Title, finding.Description, finding.Location)
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func sigmaLevel(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "critical"
	case "high":
		return "high"
	case "medium":
		return "medium"
	case "low":
		return "low"
	default:
		return "informational"
	}
}

func suricataSID(findingID string) string {
	var sum int
	for _, r := range findingID {
		sum = sum*31 + int(r)
	}
	if sum < 0 {
		sum = -sum
	}
	return fmt.Sprintf("90%06d", sum%1000000)
}

// Export concatenates a generate response's outputs matching format (or all
// of them, when format is empty) for POST /signatures/export?format=….
func Export(resp GenerateResponse, format string) (string, error) {
	if format == "" {
		var sb strings.Builder
		for _, o := range resp.Outputs {
			sb.WriteString(o.Body)
			sb.WriteString("\n")
		}
		return sb.String(), nil
	}

	var sb strings.Builder
	found := false
	for _, o := range resp.Outputs {
		if string(o.Format) == format {
			sb.WriteString(o.Body)
			sb.WriteString("\n")
			found = true
		}
	}
	if !found {
		return "", errs.New(errs.InvalidRequest, "unknown signature format: "+format)
	}
	return sb.String(), nil
}
