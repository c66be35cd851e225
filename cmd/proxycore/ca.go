package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var caOutFile string

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Export the root CA certificate",
	Long: `Fetch the root CA certificate (PEM) from a running proxycore so it
can be installed into a client's trust store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := apiAddr()
		if err != nil {
			return err
		}
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(base + "/api/proxy/certificate")
		if err != nil {
			return fmt.Errorf("fetching root CA certificate: %w (is 'proxycore start' running?)", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("proxycore API returned %s: %s", resp.Status, string(data))
		}
		pem, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading certificate: %w", err)
		}

		if caOutFile == "" {
			fmt.Print(string(pem))
			return nil
		}
		if err := os.WriteFile(caOutFile, pem, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", caOutFile, err)
		}
		fmt.Printf("[proxycore] root CA certificate written to %s\n", caOutFile)
		fmt.Println("[proxycore] install it into your client's trust store to enable HTTPS interception")
		return nil
	},
}

func init() {
	caCmd.Flags().StringVarP(&caOutFile, "out", "o", "", "Write the PEM certificate to this file instead of stdout")
}
