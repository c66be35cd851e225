package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/webintercept/proxycore/internal/config"
)

// apiAddr resolves the running proxycore API's base URL from config.
func apiAddr() (string, error) {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	return fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port), nil
}

// apiCall sends a JSON request to the running proxycore API and decodes
// the JSON response into out (if non-nil). Every CLI subcommand that
// drives a live engine goes through this helper rather than importing
// the engine packages directly, since the engines' actual state lives
// in the running server process.
func apiCall(method, path string, body any, out any) error {
	base, err := apiAddr()
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, base+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling proxycore API at %s: %w (is 'proxycore start' running?)", base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("proxycore API returned %s: %s", resp.Status, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
