package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sourceRev int

var sourceCmd = &cobra.Command{
	Use:   "source <site-url> <page>",
	Short: "Print a page's source at a given revision",
	Args:  cobra.ExactArgs(2),
	RunE:  runSource,
}

func init() {
	sourceCmd.Flags().IntVar(&sourceRev, "rev", 0, "revision number to fetch (0 = latest)")
	rootCmd.AddCommand(sourceCmd)
}

func runSource(cmd *cobra.Command, args []string) error {
	site, slug := args[0], args[1]

	client, err := newReadClient(site)
	if err != nil {
		return err
	}

	pageID, err := client.PageID(cmd.Context(), slug)
	if err != nil {
		return fmt.Errorf("resolving page %s: %w", slug, err)
	}

	revs, err := client.ListRevisions(cmd.Context(), pageID, 0)
	if err != nil {
		return fmt.Errorf("listing revisions of %s: %w", slug, err)
	}
	if len(revs) == 0 {
		return fmt.Errorf("page %s has no revisions", slug)
	}

	want := sourceRev
	if want == 0 {
		want = revs[len(revs)-1].Seq
	}
	var remoteID string
	for _, rev := range revs {
		if rev.Seq == want {
			remoteID = rev.RemoteID
			break
		}
	}
	if remoteID == "" {
		return fmt.Errorf("page %s has no revision %d (history has %d)", slug, want, len(revs))
	}

	source, err := client.RevisionSource(cmd.Context(), remoteID)
	if err != nil {
		return fmt.Errorf("fetching revision %d of %s: %w", want, slug, err)
	}
	cmd.Print(source)
	if len(source) > 0 && source[len(source)-1] != '\n' {
		cmd.Println()
	}
	return nil
}
