package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webintercept/proxycore/internal/config"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running proxycore process",
	Long: `Stop a running proxycore process. Tries HTTP shutdown first
(cross-platform), then falls back to PID file + SIGTERM on Unix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[proxycore] stop signal sent")
			os.Remove(filepath.Join(configDir, "proxycore.pid"))
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("proxycore is not responding at %s — cannot stop", addr)
	}

	pidFile := filepath.Join(configDir, "proxycore.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("proxycore is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("stopping proxycore (PID %d): %w", pid, err)
	}

	os.Remove(pidFile)
	fmt.Printf("[proxycore] sent stop signal (PID %d)\n", pid)
	return nil
}
