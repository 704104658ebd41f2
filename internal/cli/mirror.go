package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorkit/wikidot-mirror/internal/checkpoint"
	"github.com/mirrorkit/wikidot-mirror/internal/config"
	"github.com/mirrorkit/wikidot-mirror/internal/mirror"
	"github.com/mirrorkit/wikidot-mirror/internal/render"
	"github.com/mirrorkit/wikidot-mirror/internal/wikidot"
)

// roundTo trims report durations for display.
const roundTo = 100 * time.Millisecond

var mirrorFlags struct {
	page        string
	renderCmd   string
	rate        float64
	burst       int
	workers     int
	lookahead   int
	maxAttempts int
	depth       int
	maxPages    int
	skipPages   []string
	category    string
	tags        string
	createdBy   string
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror <site-url> <target-dir>",
	Short: "Mirror a site's edit history into a local git repository",
	Long: `Crawls every page of the site, fetches each page's complete revision
history, and replays all revisions across the whole site in original
edit order as git commits in the target directory.

Interrupting a run is safe: progress is checkpointed after every
commit and the next run resumes without duplicating or skipping work.`,
	Args: cobra.ExactArgs(2),
	RunE: runMirror,
}

func init() {
	f := mirrorCmd.Flags()
	f.StringVar(&mirrorFlags.page, "page", "", "mirror a single page instead of the whole site")
	f.StringVar(&mirrorFlags.renderCmd, "render-cmd", "", "external command to transform page source (stdin to stdout)")
	f.Float64Var(&mirrorFlags.rate, "rate", 0, "requests per second (default from config)")
	f.IntVar(&mirrorFlags.burst, "burst", 0, "rate limiter burst size")
	f.IntVar(&mirrorFlags.workers, "workers", 0, "concurrent fetch workers")
	f.IntVar(&mirrorFlags.lookahead, "lookahead", 0, "snapshots fetched ahead of the commit loop")
	f.IntVar(&mirrorFlags.maxAttempts, "max-attempts", 0, "retry attempts per request")
	f.IntVar(&mirrorFlags.depth, "depth", 0, "mirror only the last N revisions per page (0 = full history)")
	f.IntVar(&mirrorFlags.maxPages, "max-pages", 0, "process at most N pages this run (0 = unlimited)")
	f.StringSliceVar(&mirrorFlags.skipPages, "skip-page", nil, "page slug to skip (repeatable)")
	f.StringVar(&mirrorFlags.category, "category", "", "restrict enumeration to a page category")
	f.StringVar(&mirrorFlags.tags, "tags", "", "restrict enumeration to pages carrying these tags")
	f.StringVar(&mirrorFlags.createdBy, "created-by", "", "restrict enumeration to pages created by this user")
	rootCmd.AddCommand(mirrorCmd)
}

func runMirror(cmd *cobra.Command, args []string) error {
	site, target := args[0], args[1]

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := wikidot.NewClient(wikidot.ClientConfig{
		Site: site,
		RateLimit: wikidot.RateLimitConfig{
			RequestsPerSecond: mirrorFlags.rate,
			BurstSize:         mirrorFlags.burst,
		},
		MaxAttempts: mirrorFlags.maxAttempts,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}
	store, err := checkpoint.NewStore(filepath.Join(target, checkpoint.DirName))
	if err != nil {
		return err
	}
	defer store.Close()

	renderer, err := render.FromSpec(mirrorFlags.renderCmd)
	if err != nil {
		return err
	}

	writer, err := mirror.NewWriter(target, store, client.Site(), client.Hostname(), renderer)
	if err != nil {
		return err
	}

	engine := mirror.NewEngine(client, store, writer, mirror.Options{
		Workers:   mirrorFlags.workers,
		Lookahead: mirrorFlags.lookahead,
		Depth:     mirrorFlags.depth,
		MaxPages:  mirrorFlags.maxPages,
		SkipPages: mirrorFlags.skipPages,
		List: wikidot.ListOptions{
			Category:  mirrorFlags.category,
			Tags:      mirrorFlags.tags,
			CreatedBy: mirrorFlags.createdBy,
		},
	})

	var report *mirror.Report
	if mirrorFlags.page != "" {
		cmd.Printf("Mirroring page %s from %s...\n", mirrorFlags.page, client.Site())
		report, err = engine.RunPage(ctx, mirrorFlags.page)
	} else {
		cmd.Printf("Mirroring %s into %s...\n", client.Site(), target)
		report, err = engine.Run(ctx)
	}
	if report != nil {
		printReport(cmd, report)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("interrupted; rerun to resume")
		}
		return err
	}
	if report != nil && len(report.Failed) > 0 {
		return fmt.Errorf("%d page(s) failed; rerun to retry them", len(report.Failed))
	}
	return nil
}

// applyConfig fills unset flags from the persisted configuration.
func applyConfig(cfg *config.Config) {
	if mirrorFlags.rate == 0 {
		mirrorFlags.rate = cfg.RequestsPerSecond
	}
	if mirrorFlags.burst == 0 {
		mirrorFlags.burst = cfg.Burst
	}
	if mirrorFlags.workers == 0 {
		mirrorFlags.workers = cfg.Workers
	}
	if mirrorFlags.lookahead == 0 {
		mirrorFlags.lookahead = cfg.Lookahead
	}
	if mirrorFlags.maxAttempts == 0 {
		mirrorFlags.maxAttempts = cfg.MaxAttempts
	}
	if mirrorFlags.renderCmd == "" {
		mirrorFlags.renderCmd = cfg.RenderCommand
	}
	mirrorFlags.skipPages = append(mirrorFlags.skipPages, cfg.SkipPages...)
}

func printReport(cmd *cobra.Command, report *mirror.Report) {
	cmd.Printf("Pages: %d, commits applied: %d", report.PagesTotal, report.CommitsApplied)
	if report.Recovered > 0 {
		cmd.Printf(", checkpoints recovered: %d", report.Recovered)
	}
	cmd.Printf(" (%s)\n", report.Duration.Round(roundTo))
	for _, slug := range report.FailedSlugs() {
		cmd.Printf("  failed: %s: %v\n", slug, report.Failed[slug])
	}
}
