package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/learnhub/learnhub/internal/cli/ui"
	"github.com/learnhub/learnhub/internal/web/cache"
)

var (
	// errNotCached makes "cache get" exit non-zero on a miss
	errNotCached = errors.New("key is not cached")
	// errCacheNotConfigured is returned when neither Redis nor a database is set
	errCacheNotConfigured = errors.New("no cache backend configured")
)

func newCacheCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate the shared cache",
		Long: `Inspect and invalidate entries in the configured cache backend
(cache.backend, or Redis then the database when set to auto).`,
	}

	cmd.AddCommand(newCacheGetCommand(global))
	cmd.AddCommand(newCacheInvalidateCommand(global))

	return cmd
}

func newCacheGetCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the cached value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, global, func(store *cache.Store) error {
				value, ok := store.Get(cmd.Context(), args[0])
				if !ok {
					ui.WriteError(cmd.ErrOrStderr(), ui.ErrorOptions{
						Level:   ui.ErrorLevelWarning,
						Problem: fmt.Sprintf("%s is not cached (%s backend)", args[0], store.Backend()),
						NoColor: color.NoColor,
					})
					return errNotCached
				}

				var pretty bytes.Buffer
				if err := json.Indent(&pretty, value, "", "  "); err != nil {
					pretty.Reset()
					pretty.Write(value)
				}
				fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
				return nil
			})
		},
	}
}

func newCacheInvalidateCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Remove every key matching a pattern",
		Long: `Remove every cached key matching pattern.

Only the first '*' is a wildcard and matching is by substring: "user:*"
also removes "admin-user:7". Delete keys individually when that matters.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return cache.ErrEmptyPattern
			}
			return withCache(cmd, global, func(store *cache.Store) error {
				removed := cache.InvalidateCache(cmd.Context(), store, args[0])
				ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Removed %d %s matching %q", removed, plural(removed, "key"), args[0]), color.NoColor)
				return nil
			})
		},
	}
}

// withCache opens the application, checks a cache backend is configured
// and runs fn against it
func withCache(cmd *cobra.Command, global *globalOptions, fn func(*cache.Store) error) error {
	application, err := global.openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	if !application.Cache.Configured() {
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError("no cache backend configured; set redis.url or database.url", color.NoColor))
		return errCacheNotConfigured
	}
	return fn(application.Cache)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
