package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local resource cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache metrics",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries and enforce the size limit",
	Args:  cobra.NoArgs,
	RunE:  runCacheCleanup,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry, including queued changes",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [resource-type]",
	Short: "Drop cached resources and lists of one type",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheInvalidate,
}

var cacheClearYes bool

func init() {
	cacheClearCmd.Flags().BoolVar(&cacheClearYes, "yes", false, "confirm clearing the cache")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cacheServices(cmd *cobra.Command) (*Services, error) {
	svc, err := loadServices(cmd)
	if err != nil {
		return nil, err
	}
	if svc.Cache == nil {
		return nil, errors.New("cache service not configured")
	}
	return svc, nil
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	svc, err := cacheServices(cmd)
	if err != nil {
		return err
	}
	printCacheMetrics(cmd, stylesFor(cmd.OutOrStdout()), svc)
	return nil
}

func runCacheCleanup(cmd *cobra.Command, _ []string) error {
	svc, err := cacheServices(cmd)
	if err != nil {
		return err
	}
	cmd.Printf("Removed %d entries.\n", svc.Cache.Cleanup())
	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	svc, err := cacheServices(cmd)
	if err != nil {
		return err
	}
	if svc.Engine != nil && svc.Engine.HasPendingOperations() && !cacheClearYes {
		return errors.New("the cache holds queued changes; pass --yes to discard them too")
	}
	cmd.Printf("Removed %d entries.\n", svc.Cache.Clear())
	return nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	svc, err := cacheServices(cmd)
	if err != nil {
		return err
	}
	n := svc.Cache.InvalidateResourceType(args[0])
	cmd.Printf("Removed %d %s entries.\n", n, args[0])
	return nil
}
