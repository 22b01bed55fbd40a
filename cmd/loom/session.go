package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loomengine/loom/internal/config"
	"github.com/loomengine/loom/internal/sessionstore"
)

var (
	sessionRootOverride string
	sessionJSONOutput   bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage saved play sessions",
	Long:  "Create, list, inspect, and delete loom sessions without starting play.",
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&sessionRootOverride, "root", "",
		"Sessions root path (overrides config and LOOM_STORES_ROOT)")
	sessionCmd.PersistentFlags().BoolVar(&sessionJSONOutput, "json", false,
		"Output in JSON format")

	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

// resolveSessionStore opens a sessionstore.Store rooted at the --root
// override, or config.Stores.RootPath otherwise.
func resolveSessionStore() (*sessionstore.Store, error) {
	rootPath := sessionRootOverride
	if rootPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		rootPath = cfg.Stores.RootPath
	}
	return sessionstore.Open(rootPath)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

var sessionDescription string

var sessionNewCmd = &cobra.Command{
	Use:   "new <session-id>",
	Short: "Register a new session directory",
	Long:  "Create a new loom session with the given id. Session ids are lowercase alphanumeric segments joined by hyphens. Play starts the actual story; this only reserves the directory.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionNew,
}

func init() {
	sessionNewCmd.Flags().StringVar(&sessionDescription, "description", "",
		"Human-readable description")
}

func runSessionNew(cmd *cobra.Command, args []string) error {
	id := args[0]

	store, err := resolveSessionStore()
	if err != nil {
		return err
	}

	if err := store.Create(id, sessionDescription); err != nil {
		if errors.Is(err, sessionstore.ErrSessionAlreadyExists) {
			return fmt.Errorf("session %q already exists", id)
		}
		return err
	}

	if sessionJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"id": id, "description": sessionDescription})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created session %q\n", id)
	return nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	RunE:  runSessionList,
}

func runSessionList(cmd *cobra.Command, args []string) error {
	store, err := resolveSessionStore()
	if err != nil {
		return err
	}

	infos, err := store.List()
	if err != nil {
		return err
	}

	if sessionJSONOutput {
		return printJSON(cmd.OutOrStdout(), infos)
	}

	tw := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(tw, "ID\tDESCRIPTION\tLAST ACCESSED\tSIZE")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			info.ID, info.Description, info.LastAccessed.Format("2006-01-02 15:04"), formatSize(info.SizeBytes))
	}
	return tw.Flush()
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show details for one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	id := args[0]

	store, err := resolveSessionStore()
	if err != nil {
		return err
	}

	infos, err := store.List()
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.ID == id {
			return printJSON(cmd.OutOrStdout(), info)
		}
	}
	return fmt.Errorf("session %q not found", id)
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	id := args[0]

	store, err := resolveSessionStore()
	if err != nil {
		return err
	}

	if err := store.Delete(id); err != nil {
		if errors.Is(err, sessionstore.ErrSessionNotFound) {
			return fmt.Errorf("session %q not found", id)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %q\n", id)
	return nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
