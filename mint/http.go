package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// doJSON performs a single JSON request/response round trip. It is the one
// place that actually touches net/http so that every oracle operation goes
// through the same encoding/decoding discipline.
func doJSON(ctx context.Context, client *http.Client, baseURL, method, path string, body, out interface{}) error {
	url := strings.TrimRight(baseURL, "/") + path

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mint: encoding request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("mint: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mint: transport error calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mint: reading response from %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		return &PolicyError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(payload),
		}
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("mint: decoding response from %s: %w", path, err)
	}
	return nil
}

// PolicyError represents the mint rejecting a call for policy reasons
// (quote unpaid/expired, proofs already spent, insufficient amount, ...),
// as opposed to a pure transport failure (§7 "Oracle policy").
type PolicyError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("mint: %s rejected with status %d: %s",
		e.Path, e.StatusCode, e.Body)
}
