package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/app"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one domain into per-page JSON records",
		Long: `Crawls every reachable page of one domain starting from --start-url,
writing one JSON record per page and a crawl_summary.json into
<out>/<domain>_<UTC timestamp>. SIGINT or SIGTERM stops the crawl; pages
already extracted are still saved and the summary is written with reason
"shutdown".`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("domain", "", "allowed domain (default: host of --start-url)")
	flags.String("start-url", "", "seed URL")
	flags.String("out", "", "output root directory for local storage")
	flags.Int("max-pages", 0, "stop after this many saved pages (0 = unlimited)")
	flags.Int("concurrency", 0, "number of crawl workers")
	bindFlag(v, "crawler.domain", cmd, "domain")
	bindFlag(v, "crawler.start_url", cmd, "start-url")
	bindFlag(v, "crawler.output_root", cmd, "out")
	bindFlag(v, "crawler.max_pages", cmd, "max-pages")
	bindFlag(v, "crawler.concurrency", cmd, "concurrency")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	crawl, err := app.NewCrawl(ctx, e.cfg, e.logger, app.Options{})
	if err != nil {
		return err
	}
	defer crawl.Close()

	summary, err := crawl.Execute(ctx)
	if err != nil {
		return err
	}
	e.logger.Info("crawl command finished",
		zap.String("reason", summary.Reason),
		zap.Int("pages_total", summary.PagesTotal),
		zap.Int64("words_total", summary.WordsTotal),
		zap.Float64("crawl_secs", summary.CrawlSecs),
	)
	return nil
}

// bindFlag lets an explicitly set flag override the config key. Flags that
// are not set fall through to file, environment and defaults.
func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
		panic(err)
	}
}
