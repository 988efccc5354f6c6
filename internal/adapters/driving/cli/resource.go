package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
)

// resourceProbeTimeout bounds the reachability check before each command.
const resourceProbeTimeout = 10 * time.Second

var (
	resourceFile    string
	resourceOffline bool
)

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Read and change FHIR resources",
	Long: `Read and change FHIR resources through the local cache.

Reads are answered from the cache when possible. While the server is
unreachable, reads fall back to the cache and changes are queued for
replay with ` + "`fhirsync sync`" + ` or the ` + "`fhirsync run`" + ` daemon.`,
}

var resourceGetCmd = &cobra.Command{
	Use:   "get [type] [id]",
	Short: "Show one resource",
	Args:  cobra.ExactArgs(2),
	RunE:  runResourceGet,
}

var resourceListCmd = &cobra.Command{
	Use:   "list [type] [name=value...]",
	Short: "List resources matching search parameters",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResourceList,
}

var resourceSearchCmd = &cobra.Command{
	Use:   "search [type] [name=value...]",
	Short: "Search resources, using full-text search when available",
	Long: `Searches resources of a type. The parameter "q" is a free-text query.
While the server is unreachable only cached lists are searched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResourceSearch,
}

var resourceCreateCmd = &cobra.Command{
	Use:   "create [type]",
	Short: "Create a resource from JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runResourceCreate,
}

var resourceUpdateCmd = &cobra.Command{
	Use:   "update [type] [id]",
	Short: "Replace a resource with JSON",
	Args:  cobra.ExactArgs(2),
	RunE:  runResourceUpdate,
}

var resourceDeleteCmd = &cobra.Command{
	Use:   "delete [type] [id]",
	Short: "Delete a resource",
	Args:  cobra.ExactArgs(2),
	RunE:  runResourceDelete,
}

func init() {
	resourceCmd.PersistentFlags().BoolVar(&resourceOffline, "offline", false, "skip the server probe and work from the cache")
	for _, c := range []*cobra.Command{resourceCreateCmd, resourceUpdateCmd} {
		c.Flags().StringVarP(&resourceFile, "file", "f", "-", "JSON file to read, - for stdin")
	}
	resourceCmd.AddCommand(resourceGetCmd)
	resourceCmd.AddCommand(resourceListCmd)
	resourceCmd.AddCommand(resourceSearchCmd)
	resourceCmd.AddCommand(resourceCreateCmd)
	resourceCmd.AddCommand(resourceUpdateCmd)
	resourceCmd.AddCommand(resourceDeleteCmd)
	rootCmd.AddCommand(resourceCmd)
}

// resourceService probes the server, unless --offline is set, and returns
// the façade for resourceType along with whether the server answered.
func resourceService(cmd *cobra.Command, resourceType string) (driving.ResourceService, bool, error) {
	svc, err := loadServices(cmd)
	if err != nil {
		return nil, false, err
	}
	if svc.Resources == nil {
		return nil, false, errors.New("resource service not configured")
	}

	connected := true
	if svc.Monitor != nil {
		connected = false
		if !resourceOffline {
			ctx, cancel := context.WithTimeout(cmd.Context(), resourceProbeTimeout)
			connected = svc.Monitor.CheckConnection(ctx)
			cancel()
		}
		if !connected {
			cmd.PrintErrln("Server unreachable, working offline.")
		}
	}

	return svc.Resources(resourceType), connected, nil
}

// resourceFailure prints a categorised error and returns a short error for
// the exit status.
func resourceFailure(cmd *cobra.Command, err error) error {
	cmd.PrintErrln(describeError(err))
	return errors.New("resource command failed")
}

func runResourceGet(cmd *cobra.Command, args []string) error {
	rs, _, err := resourceService(cmd, args[0])
	if err != nil {
		return err
	}
	r, err := rs.FetchOne(cmd.Context(), args[1])
	if err != nil {
		return resourceFailure(cmd, err)
	}
	return printJSON(cmd, r)
}

func runResourceList(cmd *cobra.Command, args []string) error {
	query, err := parseQuery(args[1:])
	if err != nil {
		return err
	}
	rs, _, err := resourceService(cmd, args[0])
	if err != nil {
		return err
	}
	items, err := rs.FetchMany(cmd.Context(), query)
	if err != nil {
		return resourceFailure(cmd, err)
	}
	return printJSON(cmd, items)
}

func runResourceSearch(cmd *cobra.Command, args []string) error {
	query, err := parseQuery(args[1:])
	if err != nil {
		return err
	}
	rs, _, err := resourceService(cmd, args[0])
	if err != nil {
		return err
	}
	items, err := rs.Search(cmd.Context(), query)
	if err != nil {
		return resourceFailure(cmd, err)
	}
	return printJSON(cmd, items)
}

func runResourceCreate(cmd *cobra.Command, args []string) error {
	data, err := readResource(resourceFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	rs, _, err := resourceService(cmd, args[0])
	if err != nil {
		return err
	}
	created, err := rs.Create(cmd.Context(), data)
	if err != nil {
		return resourceFailure(cmd, err)
	}
	if created.IsTemporary() {
		cmd.PrintErrf("Queued for creation as %s.\n", created.ID())
	}
	return printJSON(cmd, created)
}

func runResourceUpdate(cmd *cobra.Command, args []string) error {
	data, err := readResource(resourceFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	rs, connected, err := resourceService(cmd, args[0])
	if err != nil {
		return err
	}
	updated, err := rs.Update(cmd.Context(), args[1], data)
	if err != nil {
		return resourceFailure(cmd, err)
	}
	if !connected || domain.IsTempID(args[1]) {
		cmd.PrintErrln("Update queued.")
	}
	return printJSON(cmd, updated)
}

func runResourceDelete(cmd *cobra.Command, args []string) error {
	rs, connected, err := resourceService(cmd, args[0])
	if err != nil {
		return err
	}
	if err := rs.Delete(cmd.Context(), args[1]); err != nil {
		return resourceFailure(cmd, err)
	}
	switch {
	case domain.IsTempID(args[1]):
		cmd.Printf("Discarded queued create of %s/%s.\n", args[0], args[1])
	case connected:
		cmd.Printf("Deleted %s/%s.\n", args[0], args[1])
	default:
		cmd.Printf("Delete of %s/%s queued.\n", args[0], args[1])
	}
	return nil
}
