package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/webcache"
	"github.com/spf13/cobra"
)

func fetchCmd() *cobra.Command {
	var (
		ttl     time.Duration
		timeout time.Duration
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a page, serving repeats from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The body goes to stdout, keep the fetch log off it.
			logging.Default().SetConsole(false)

			s, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if ttl > 0 {
				cfg.Fetch.TTL = ttl
			}
			if timeout > 0 {
				cfg.Fetch.Timeout = timeout
			}

			f := webcache.New(s, webcache.Options{
				TTL:     cfg.Fetch.TTL,
				Timeout: cfg.Fetch.Timeout,
			})

			res, err := f.FetchPage(context.Background(), args[0])
			if err != nil {
				return err
			}

			if verbose {
				source := "network"
				if res.FromCache {
					source = "cache"
				}
				fmt.Fprintf(os.Stderr, "URL:      %s\n", res.URL)
				fmt.Fprintf(os.Stderr, "Source:   %s\n", source)
				if !res.FromCache {
					fmt.Fprintf(os.Stderr, "Status:   %d\n", res.Status)
				}
				fmt.Fprintf(os.Stderr, "Fetches:  %d\n", res.Fetches)
				fmt.Fprintf(os.Stderr, "Duration: %dms\n", res.Duration.Milliseconds())
				fmt.Fprintf(os.Stderr, "Size:     %dB\n", len(res.Body))
			}

			os.Stdout.Write(res.Body)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Page cache TTL (overrides config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Fetch timeout (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print fetch details to stderr")

	return cmd
}

func warmCmd() *cobra.Command {
	var example bool

	cmd := &cobra.Command{
		Use:   "warm <file>",
		Short: "Prefetch every page named in a YAML warm list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if example {
				fmt.Print(webcache.ExampleWarmList())
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("warm list file is required (or use --example)")
			}

			logging.Default().SetConsole(false)

			list, err := webcache.LoadWarmList(args[0])
			if err != nil {
				return err
			}

			s, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			f := webcache.New(s, webcache.Options{
				TTL:     cfg.Fetch.TTL,
				Timeout: cfg.Fetch.Timeout,
			})

			report, err := f.Warm(context.Background(), list)
			if err != nil {
				return err
			}

			fmt.Printf("Warmed %d pages: %d fetched, %d already cached, %d failed\n",
				len(list.Pages), report.Fetched, report.Cached, len(report.Failed))
			for _, url := range report.Failed {
				fmt.Printf("  failed: %s\n", url)
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d pages failed", len(report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&example, "example", false, "Print an example warm list and exit")

	return cmd
}
