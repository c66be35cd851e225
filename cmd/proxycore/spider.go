package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var spiderCmd = &cobra.Command{
	Use:   "spider",
	Short: "Configure and drive spider (crawl) sessions",
}

type spiderSessionJSON struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CrawledCount int    `json:"crawled_count"`
	MaxPages     int    `json:"max_pages"`
	ErrorMessage string `json:"error_message,omitempty"`
}

var spiderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured crawl sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sessions []spiderSessionJSON
		if err := apiCall("GET", "/api/spider/sessions", nil, &sessions); err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%-36s %-12s crawled=%d/%d\n", s.ID, s.Status, s.CrawledCount, s.MaxPages)
		}
		return nil
	},
}

var (
	spiderSeedURLs            []string
	spiderMaxDepth            int
	spiderMaxPages            int
	spiderFollowExternalLinks bool
	spiderRespectRobotsTxt    bool
	spiderIncludePatterns     []string
	spiderExcludePatterns     []string
	spiderThreads             int
	spiderDelayMs             int
)

var spiderConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure a new crawl session",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"seed_urls":             spiderSeedURLs,
			"max_depth":             spiderMaxDepth,
			"max_pages":             spiderMaxPages,
			"follow_external_links": spiderFollowExternalLinks,
			"respect_robots_txt":    spiderRespectRobotsTxt,
			"include_patterns":      spiderIncludePatterns,
			"exclude_patterns":      spiderExcludePatterns,
			"threads":               spiderThreads,
			"delay_ms":              spiderDelayMs,
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := apiCall("POST", "/api/spider/sessions", req, &out); err != nil {
			return err
		}
		fmt.Printf("[proxycore] spider session configured: %s\n", out.ID)
		return nil
	},
}

func spiderLifecycleCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out spiderSessionJSON
			if err := apiCall("POST", "/api/spider/sessions/"+args[0]+"/"+action, nil, &out); err != nil {
				return err
			}
			fmt.Printf("[proxycore] session %s status: %s (crawled %d/%d)\n",
				out.ID, out.Status, out.CrawledCount, out.MaxPages)
			return nil
		},
	}
}

var spiderURLsCmd = &cobra.Command{
	Use:   "urls ID",
	Short: "List URLs discovered by a crawl session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var urls []json.RawMessage
		if err := apiCall("GET", "/api/spider/sessions/"+args[0]+"/urls", nil, &urls); err != nil {
			return err
		}
		for _, u := range urls {
			fmt.Println(string(u))
		}
		return nil
	},
}

func init() {
	spiderConfigureCmd.Flags().StringArrayVar(&spiderSeedURLs, "seed", nil, "Seed URL; repeatable")
	spiderConfigureCmd.Flags().IntVar(&spiderMaxDepth, "max-depth", 3, "Maximum crawl depth")
	spiderConfigureCmd.Flags().IntVar(&spiderMaxPages, "max-pages", 500, "Maximum pages to crawl")
	spiderConfigureCmd.Flags().BoolVar(&spiderFollowExternalLinks, "follow-external-links", false, "Follow links off the seed host")
	spiderConfigureCmd.Flags().BoolVar(&spiderRespectRobotsTxt, "respect-robots-txt", true, "Honor robots.txt")
	spiderConfigureCmd.Flags().StringArrayVar(&spiderIncludePatterns, "include", nil, "Include regex; repeatable (empty = allow all)")
	spiderConfigureCmd.Flags().StringArrayVar(&spiderExcludePatterns, "exclude", nil, "Exclude regex; repeatable")
	spiderConfigureCmd.Flags().IntVar(&spiderThreads, "threads", 5, "Concurrent fetch count")
	spiderConfigureCmd.Flags().IntVar(&spiderDelayMs, "delay-ms", 250, "Delay between dispatches per host")
	spiderConfigureCmd.MarkFlagRequired("seed")

	spiderCmd.AddCommand(
		spiderListCmd,
		spiderConfigureCmd,
		spiderLifecycleCmd("start", "Start a configured crawl session", "start"),
		spiderLifecycleCmd("pause", "Pause a running crawl session", "pause"),
		spiderLifecycleCmd("resume", "Resume a paused crawl session", "resume"),
		spiderLifecycleCmd("stop", "Stop a crawl session", "stop"),
		spiderURLsCmd,
	)
}
