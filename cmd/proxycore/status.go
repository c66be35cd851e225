package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/webintercept/proxycore/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxycore status",
	Long:  `Display whether proxycore is running and its listen addresses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

type proxyStatusJSON struct {
	Running           bool `json:"running"`
	InterceptEnabled  bool `json:"intercept_enabled"`
	InterceptPending  int  `json:"intercept_pending"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(addr + "/health")
	if err != nil {
		fmt.Println("[proxycore] status: NOT RUNNING")
		fmt.Printf("[proxycore] expected at: %s\n", addr)
		return nil
	}
	resp.Body.Close()

	fmt.Println("[proxycore] status: RUNNING")
	fmt.Printf("[proxycore] API at: %s\n", addr)
	fmt.Printf("[proxycore] proxy at: %s:%d\n", cfg.Proxy.Host, cfg.Proxy.Port)

	statusResp, err := client.Get(addr + "/api/proxy/status")
	if err != nil {
		fmt.Println("[proxycore] could not query proxy status")
		return nil
	}
	defer statusResp.Body.Close()

	var ps proxyStatusJSON
	if err := json.NewDecoder(statusResp.Body).Decode(&ps); err != nil {
		fmt.Println("[proxycore] could not parse proxy status")
		return nil
	}

	fmt.Printf("[proxycore] proxy running: %v\n", ps.Running)
	fmt.Printf("[proxycore] intercept enabled: %v (pending: %d)\n", ps.InterceptEnabled, ps.InterceptPending)
	return nil
}
