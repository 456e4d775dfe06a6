// Package explorer fetches verified contract ABIs from a chain's block
// explorer (Etherscan-compatible API), used by the recon stage (§4.C5.a)
// and the address scanner (§4.C8) whenever a request resolves to an
// on-chain address rather than a source checkout.
package explorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/bugbot-labs/bugbot/internal/errs"
)

// Client talks to one chain's Etherscan-compatible explorer API.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

// New builds a Client for an explorer reachable at apiURL (e.g.
// "https://api.etherscan.io/api").
func New(apiURL, apiKey string) *Client {
	return &Client{
		apiURL:     apiURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type etherscanResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// ContractInfo is the subset of a verified contract's metadata recon
// attaches to a contract record (§4.C5.a).
type ContractInfo struct {
	Address string
	Name    string
	ABIJSON string
}

// FetchABI retrieves the verified ABI for address, following the
// `module=contract&action=getabi` convention shared by Etherscan-family
// explorers (Etherscan, BscScan, Polygonscan, Arbiscan, ...).
func (c *Client) FetchABI(ctx context.Context, address string) (ContractInfo, error) {
	if c.apiURL == "" {
		return ContractInfo{}, errs.New(errs.BackendUnavailable, "no explorer configured for this chain")
	}

	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getabi")
	q.Set("address", address)
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return ContractInfo{}, errs.Wrap(errs.Internal, "building explorer request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ContractInfo{}, errs.Wrap(errs.BackendUnavailable, "calling explorer", err)
	}
	defer resp.Body.Close()

	var out etherscanResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ContractInfo{}, errs.Wrap(errs.BackendUnavailable, "decoding explorer response", err)
	}
	if out.Status != "1" {
		return ContractInfo{}, errs.New(errs.NotFound, "no verified source for address: "+out.Message)
	}

	name, err := c.fetchSourceName(ctx, address)
	if err != nil {
		name = address
	}

	return ContractInfo{Address: address, Name: name, ABIJSON: out.Result}, nil
}

type sourceItem struct {
	ContractName string `json:"ContractName"`
	SourceCode   string `json:"SourceCode"`
}

type etherscanSourceResponse struct {
	Status string       `json:"status"`
	Result []sourceItem `json:"result"`
}

// fetchSourceName fetches getsourcecode separately from getabi since
// Etherscan-family APIs expose contract name only via that action.
func (c *Client) fetchSourceName(ctx context.Context, address string) (string, error) {
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", address)
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out etherscanSourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Result) == 0 || out.Result[0].ContractName == "" {
		return "", errs.New(errs.NotFound, "no contract name in source response")
	}
	return out.Result[0].ContractName, nil
}

// SourceFile is one file of a verified contract's source (§4.C8). Most
// Etherscan-family verifications return a single flattened file; some
// return a Solidity "standard JSON input" bundle of many files, which
// FetchSourceCode unwraps rather than handing back as one opaque blob.
type SourceFile struct {
	Name    string
	Content string
}

type standardJSONInput struct {
	Sources map[string]struct {
		Content string `json:"content"`
	} `json:"sources"`
}

// FetchSourceCode retrieves the verified source text for address via
// getsourcecode (§4.C8's "decompile fallback" only applies once this
// returns nothing usable). When the explorer stores the source as
// multi-file Solidity standard-JSON input (wrapped in one extra pair of
// braces, per Etherscan convention), it is unwrapped into individual
// files; otherwise the raw text is returned as a single file.
func (c *Client) FetchSourceCode(ctx context.Context, address string) ([]SourceFile, error) {
	if c.apiURL == "" {
		return nil, errs.New(errs.BackendUnavailable, "no explorer configured for this chain")
	}

	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", address)
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "building explorer request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "calling explorer", err)
	}
	defer resp.Body.Close()

	var out etherscanSourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "decoding explorer response", err)
	}
	if len(out.Result) == 0 || out.Result[0].SourceCode == "" {
		return nil, errs.New(errs.NotFound, "no verified source code for address")
	}

	raw := out.Result[0].SourceCode
	name := out.Result[0].ContractName
	if name == "" {
		name = address
	}

	trimmed := raw
	if len(trimmed) >= 2 && trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}' {
		var bundle standardJSONInput
		if err := json.Unmarshal([]byte(trimmed[1:len(trimmed)-1]), &bundle); err == nil && len(bundle.Sources) > 0 {
			files := make([]SourceFile, 0, len(bundle.Sources))
			for path, src := range bundle.Sources {
				files = append(files, SourceFile{Name: path, Content: src.Content})
			}
			return files, nil
		}
	}

	return []SourceFile{{Name: name + ".sol", Content: raw}}, nil
}
