package validator

import "github.com/bugbot-labs/bugbot/internal/store"

// templatesByType holds a fallback PoC skeleton per finding type (§4.C7
// "Otherwise a template is chosen by finding.type"), used when the
// submitter didn't supply proof_of_concept text. Each one is intentionally
// a stub: the sandbox image, not this service, owns the actual test
// harness/runtime the skeleton is interpreted by.
var templatesByType = map[string]string{
	"reentrancy":     "// reentrancy poc skeleton\n// target: {{finding_id}}\ncall_untrusted_then_reenter(target)\n",
	"overflow":       "// integer overflow poc skeleton\n// target: {{finding_id}}\ncall_with_boundary_value(target, MAX_UINT)\n",
	"access_control": "// access control poc skeleton\n// target: {{finding_id}}\ncall_as_unprivileged(target, restricted_fn)\n",
	"oracle":         "// oracle manipulation poc skeleton\n// target: {{finding_id}}\nmanipulate_price_then_call(target)\n",
}

const genericTemplate = "// generic poc skeleton\n// target: {{finding_id}}\nreproduce(target)\n"

// resolvePoC returns ref's own PoC text if supplied, otherwise a template
// for its finding type.
func resolvePoC(ref store.FindingRef) string {
	if ref.ProofOfConcept != "" {
		return ref.ProofOfConcept
	}
	tmpl, ok := templatesByType[ref.Type]
	if !ok {
		tmpl = genericTemplate
	}
	id := ref.FindingID
	if id == "" {
		id = ref.ExternalID
	}
	return replaceAll(tmpl, "{{finding_id}}", id)
}

func replaceAll(s, old, new string) string {
	out := ""
	for {
		i := indexOf(s, old)
		if i < 0 {
			return out + s
		}
		out += s[:i] + new
		s = s[i+len(old):]
	}
}
