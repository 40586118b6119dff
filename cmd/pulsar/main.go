package main

import (
	"context"
	"fmt"
	"os"

	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/kv"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	redisAddr   string
	redisPass   string
	redisDB     int
	backendName string
	boltPath    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulsar",
		Short: "Pulsar - instrumented page cache over a pluggable key-value store",
		Long: "A caching CLI that stores typed values under generated keys, keeps a " +
			"replayable history of every store call, and caches fetched web pages with a short TTL",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&redisPass, "redis-pass", "", "Redis password (overrides config)")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redis-db", -1, "Redis database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "Store backend: redis, memory, bolt (overrides config)")
	rootCmd.PersistentFlags().StringVar(&boltPath, "bolt-path", "", "Bolt database file (overrides config)")

	rootCmd.AddCommand(
		storeCmd(),
		getCmd(),
		replayCmd(),
		fetchCmd(),
		warmCmd(),
		flushCmd(),
		serveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if redisPass != "" {
		cfg.Redis.Password = redisPass
	}
	if redisDB >= 0 {
		cfg.Redis.DB = redisDB
	}
	if backendName != "" {
		cfg.Store.Backend = backendName
	}
	if boltPath != "" {
		cfg.Store.BoltPath = boltPath
	}
	return cfg, nil
}

func openStore() (kv.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := kv.Open(kv.Config{
		Backend:  cfg.Store.Backend,
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Path:     cfg.Store.BoltPath,
	})
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

func storeCmd() *cobra.Command {
	var (
		valueType string
		fresh     bool
	)

	cmd := &cobra.Command{
		Use:   "store <value>",
		Short: "Store a value under a generated key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			var c *cache.Cache
			if fresh {
				c, err = cache.New(ctx, s)
			} else {
				c, err = cache.Open(ctx, s)
			}
			if err != nil {
				return err
			}

			value, err := parseValue(args[0], valueType)
			if err != nil {
				return err
			}

			key, err := c.Store(ctx, value)
			if err != nil {
				return err
			}

			fmt.Println(key)
			return nil
		},
	}

	cmd.Flags().StringVarP(&valueType, "type", "t", "text", "Value type (text, int, float)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Clear the store before storing")

	return cmd
}

func getCmd() *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a stored value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			c, err := cache.Open(ctx, s)
			if err != nil {
				return err
			}

			key := args[0]
			switch as {
			case "text":
				v, found, err := c.RetrieveText(ctx, key)
				if err != nil {
					return err
				}
				if !found {
					fmt.Println("(nil)")
					return nil
				}
				fmt.Println(v)
			case "int":
				n, found, err := c.RetrieveInt(ctx, key)
				if err != nil {
					return err
				}
				if !found {
					fmt.Println("(nil)")
					return nil
				}
				fmt.Println(n)
			case "raw":
				raw, found, err := c.Retrieve(ctx, key)
				if err != nil {
					return err
				}
				if !found {
					fmt.Println("(nil)")
					return nil
				}
				os.Stdout.Write(raw)
			default:
				return fmt.Errorf("unknown conversion %q (valid: text, int, raw)", as)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&as, "as", "text", "Conversion (text, int, raw)")

	return cmd
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay [identity]",
		Short: "Print the recorded call history for an instrumented operation",
		Long:  "Prints every recorded call of an instrumented operation, pairing each input with its output. Defaults to the store operation.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			identity := cache.StoreIdentity
			if len(args) == 1 {
				identity = args[0]
			}

			return cache.Replay(context.Background(), s, identity, os.Stdout)
		},
	}
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Delete every key in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.FlushAll(context.Background()); err != nil {
				return err
			}

			fmt.Println("Store flushed")
			return nil
		},
	}
}
