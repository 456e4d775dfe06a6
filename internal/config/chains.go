package config

import "regexp"

// SupportedChains is the closed set of chains bugbot knows how to analyze
// (§3, §4.C1, §4.C8). A chain name outside this set is always an
// invalid_request, independent of whether it happens to appear in the
// operator's config file.
var SupportedChains = []string{
	"ethereum",
	"bsc",
	"polygon",
	"arbitrum",
	"optimism",
	"avalanche",
	"solana",
	"aptos",
	"sui",
	"starknet",
}

var supportedChainSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(SupportedChains))
	for _, c := range SupportedChains {
		set[c] = struct{}{}
	}
	return set
}()

// IsSupportedChain reports whether name is in the closed chain set.
func IsSupportedChain(name string) bool {
	_, ok := supportedChainSet[name]
	return ok
}

// defaultAddressPatterns back address detection (§4.C8) for chains whose
// config omits an explicit address_pattern. EVM-family chains share one
// pattern; the others have their own address encodings.
var defaultAddressPatterns = map[string]*regexp.Regexp{
	"ethereum":  regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	"bsc":       regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	"polygon":   regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	"arbitrum":  regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	"optimism":  regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	"avalanche": regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	"solana":    regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`),
	"aptos":     regexp.MustCompile(`^0x[a-fA-F0-9]{1,64}$`),
	"sui":       regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`),
	"starknet":  regexp.MustCompile(`^0x[a-fA-F0-9]{1,64}$`),
}

// DetectChain returns every configured, enabled chain whose address
// pattern matches addr. EVM-family chains share an address format, so an
// address commonly matches more than one chain; the address scanner (C8)
// is responsible for disambiguating further (e.g. trying the explorer API
// for each candidate) or surfacing all candidates to the caller.
func (cfg *Config) DetectChain(addr string) []string {
	var matches []string
	for name, chain := range cfg.Chains {
		if !chain.Enabled {
			continue
		}
		pattern := chain.compiledPattern(name)
		if pattern == nil {
			continue
		}
		if pattern.MatchString(addr) {
			matches = append(matches, name)
		}
	}
	return matches
}

// compiledPattern returns the chain's configured address pattern, falling
// back to the built-in default for name.
func (c ChainSpec) compiledPattern(name string) *regexp.Regexp {
	if c.AddressPattern != "" {
		re, err := regexp.Compile(c.AddressPattern)
		if err == nil {
			return re
		}
	}
	return defaultAddressPatterns[name]
}
