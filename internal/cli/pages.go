package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mirrorkit/wikidot-mirror/internal/wikidot"
)

var pagesFlags struct {
	category  string
	tags      string
	createdBy string
}

var pagesCmd = &cobra.Command{
	Use:   "pages <site-url>",
	Short: "List the site's pages without mirroring anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runPages,
}

func init() {
	f := pagesCmd.Flags()
	f.StringVar(&pagesFlags.category, "category", "", "restrict to a page category")
	f.StringVar(&pagesFlags.tags, "tags", "", "restrict to pages carrying these tags")
	f.StringVar(&pagesFlags.createdBy, "created-by", "", "restrict to pages created by this user")
	rootCmd.AddCommand(pagesCmd)
}

func runPages(cmd *cobra.Command, args []string) error {
	client, err := newReadClient(args[0])
	if err != nil {
		return err
	}

	opts := wikidot.ListOptions{
		Category:  pagesFlags.category,
		Tags:      pagesFlags.tags,
		CreatedBy: pagesFlags.createdBy,
	}

	total := 0
	for index := 1; ; index++ {
		listing, err := client.ListPagesIndex(cmd.Context(), index, opts)
		if err != nil {
			return fmt.Errorf("listing index %d: %w", index, err)
		}
		for _, slug := range listing.Slugs {
			cmd.Println(slug)
		}
		total += len(listing.Slugs)
		if !listing.HasNext {
			break
		}
	}
	cmd.Printf("%d pages\n", total)
	return nil
}

// newReadClient builds a client for the read-only commands using the
// persisted configuration's throttle settings.
func newReadClient(site string) (*wikidot.Client, error) {
	cfg, err := loadClientConfig(site)
	if err != nil {
		return nil, err
	}
	return wikidot.NewClient(cfg)
}
