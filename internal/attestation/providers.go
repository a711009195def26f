package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

func init() {
	Register("static", newStaticVerifier)
	Register("http", newHTTPVerifier)
}

// staticVerifier trusts a structured token of the form "tier:<name>" or
// "fail:<reason>". Dev and test use only.
type staticVerifier struct{}

func newStaticVerifier(map[string]string) (Verifier, error) {
	return &staticVerifier{}, nil
}

func (v *staticVerifier) Name() string { return "static" }

func (v *staticVerifier) Verify(_ context.Context, token, _ string) (Verdict, error) {
	if reason, ok := strings.CutPrefix(token, "fail:"); ok {
		return Verdict{Passed: false, Tier: TierNone, Reason: reason}, nil
	}
	if name, ok := strings.CutPrefix(token, "tier:"); ok {
		tier, err := ParseTier(name)
		if err != nil {
			return Verdict{}, err
		}
		return Verdict{Passed: true, Tier: tier}, nil
	}
	return Verdict{Passed: false, Tier: TierNone, Reason: "unrecognized token"}, nil
}

// httpVerifier delegates to an external attestation verification service,
// mirroring how biometric checks are treated: an opaque pass/fail oracle
// consulted before the vote transaction opens.
type httpVerifier struct {
	endpoint string
	client   *http.Client
}

func newHTTPVerifier(opts map[string]string) (Verifier, error) {
	endpoint := opts["endpoint"]
	if endpoint == "" {
		return nil, fmt.Errorf("attestation: http provider requires an endpoint")
	}
	return &httpVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (v *httpVerifier) Name() string { return "http" }

func (v *httpVerifier) Verify(ctx context.Context, token, deviceHash string) (Verdict, error) {
	body, err := json.Marshal(map[string]string{
		"token":      token,
		"deviceHash": deviceHash,
	})
	if err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("attestation: verify call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("attestation: verifier returned %d", resp.StatusCode)
	}

	var out struct {
		Passed bool   `json:"passed"`
		Tier   string `json:"tier"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, fmt.Errorf("attestation: decode verdict: %w", err)
	}
	tier, err := ParseTier(out.Tier)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Passed: out.Passed, Tier: tier, Reason: out.Reason}, nil
}
