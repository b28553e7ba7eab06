package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/indexd/gomu/internal/config"
	"github.com/indexd/gomu/internal/indexer"
	"github.com/indexd/gomu/internal/logging"
	"github.com/indexd/gomu/internal/query"
	"github.com/indexd/gomu/internal/registry"
	"github.com/indexd/gomu/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// Exit codes per the core's error taxonomy.
const (
	exitOK                = 0
	exitError             = 1
	exitNoMatches         = 2
	exitDatabaseLocked    = 3
	exitDatabaseCorrupted = 4
)

// errNoMatches signals a successful search with zero hits, distinct
// from a failed search: the exit-code mapping below treats it
// specially rather than as a generic error.
var errNoMatches = errors.New("no matches")

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errNoMatches):
		return exitNoMatches
	case errors.Is(err, store.ErrLocked):
		return exitDatabaseLocked
	case errors.Is(err, store.ErrCorrupted):
		return exitDatabaseCorrupted
	default:
		return exitError
	}
}

var (
	cfgFile string
	cfg     *config.Config
	log     *logging.Logger
)

// buildRedisClient constructs the contacts cache's Redis mirror client
// from cc, the same way the core's queue package turns a RedisURL into a
// client. It returns a nil client and no error when caching is disabled.
func buildRedisClient(cc config.CacheConfig) (*redis.Client, time.Duration, error) {
	if !cc.Enabled {
		return nil, 0, nil
	}
	opts, err := redis.ParseURL(cc.RedisURL)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid cache.redis_url: %w", err)
	}
	var ttl time.Duration
	if cc.TTL != "" {
		ttl, err = time.ParseDuration(cc.TTL)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid cache.ttl: %w", err)
		}
	}
	return redis.NewClient(opts), ttl, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "gomu",
	Short: "Maildir index and search",
	Long: `gomu indexes a Maildir tree into a local sqlite-backed store and
answers boolean search queries against it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err := logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		log = logger
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the configured Maildir and update the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return fmt.Errorf("failed to create required directories: %w", err)
		}

		force, _ := cmd.Flags().GetBool("force")
		cleanup, _ := cmd.Flags().GetBool("cleanup")

		redisClient, redisTTL, err := buildRedisClient(cfg.Cache)
		if err != nil {
			return err
		}
		if redisClient != nil {
			defer redisClient.Close()
		}

		s, err := store.Open(store.Options{
			DatabasePath:      cfg.Store.DatabasePath,
			ContactsPath:      cfg.Store.ContactsPath,
			LockPath:          cfg.Store.LockPath,
			BatchSize:         cfg.Store.BatchSize,
			Mode:              store.CreateOrOpen,
			MaildirRoot:       cfg.Maildir.Root,
			PersonalAddresses: cfg.Maildir.PersonalAddress,
			RedisClient:       redisClient,
			RedisPrefix:       cfg.Cache.Prefix,
			RedisTTL:          redisTTL,
			Logger:            log,
		})
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer s.Close()

		ix := indexer.New(cfg.Maildir.Root, s, log)

		ixCfg := indexer.DefaultConfig()
		ixCfg.MaxThreads = cfg.Indexer.MaxThreads
		ixCfg.IgnoreNoupdate = cfg.Indexer.IgnoreNoupdate
		ixCfg.LazyCheck = cfg.Indexer.LazyCheck
		ixCfg.Cleanup = cfg.Indexer.Cleanup && cleanup
		ixCfg.Force = cfg.Indexer.Force || force

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sigCh:
				fmt.Fprintf(os.Stderr, "\nreceived %s, finishing current batch...\n", sig)
				ix.Stop()
			case <-ctx.Done():
			}
		}()

		start := time.Now()
		if err := ix.Start(ctx, ixCfg); err != nil {
			return fmt.Errorf("failed to start indexer: %w", err)
		}
		ix.Wait()

		p := ix.Progress()
		fmt.Printf("processed %d, updated %d, removed %d (%s)\n",
			p.Processed, p.Updated, p.Removed, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var findCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Search the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expr := args[0]
		sortField, _ := cmd.Flags().GetString("sort")
		ascending, _ := cmd.Flags().GetBool("ascending")
		limit, _ := cmd.Flags().GetInt("limit")
		explain, _ := cmd.Flags().GetBool("xquery")

		if explain {
			out, err := query.Explain(expr)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		}

		redisClient, redisTTL, err := buildRedisClient(cfg.Cache)
		if err != nil {
			return err
		}
		if redisClient != nil {
			defer redisClient.Close()
		}

		s, err := store.Open(store.Options{
			DatabasePath: cfg.Store.DatabasePath,
			ContactsPath: cfg.Store.ContactsPath,
			LockPath:     cfg.Store.LockPath,
			BatchSize:    cfg.Store.BatchSize,
			Mode:         store.ReadOnly,
			RedisClient:  redisClient,
			RedisPrefix:  cfg.Cache.Prefix,
			RedisTTL:     redisTTL,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer s.Close()

		it, err := query.Run(s, expr, sortField, ascending, limit)
		if err != nil {
			return err
		}

		count := 0
		for {
			hit, ok := it.Next()
			if !ok {
				break
			}
			path, err := hit.Path()
			if err != nil {
				continue
			}
			fmt.Printf("%-8s %-40s %s\n", hit.Value(registry.Subject), hit.Value(registry.From), path)
			count++
		}
		if count == 0 {
			return errNoMatches
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("gomu v0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")

	indexCmd.Flags().Bool("force", false, "reindex every message regardless of stored mtime")
	indexCmd.Flags().Bool("cleanup", true, "remove store records for vanished files after scanning")
	rootCmd.AddCommand(indexCmd)

	findCmd.Flags().String("sort", "", "sort by this field (must be a stored-as-value field)")
	findCmd.Flags().Bool("ascending", true, "sort ascending instead of descending")
	findCmd.Flags().Int("limit", 0, "maximum number of hits to print (0 = unlimited)")
	findCmd.Flags().Bool("xquery", false, "print the parsed query tree instead of running it")
	rootCmd.AddCommand(findCmd)

	rootCmd.AddCommand(versionCmd)
}
