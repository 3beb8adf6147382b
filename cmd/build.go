package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/corpus"
	"github.com/JakeFAU/sitecorpus/internal/crawler"
	"github.com/JakeFAU/sitecorpus/internal/language"
)

// newBuildCmd creates the 'build' subcommand.
func newBuildCmd(v *viper.Viper) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "build <input_dir>",
		Short: "Deduplicate and language-filter crawl records into a JSON Lines corpus",
		Long: `Reads every page record under input_dir (recursively, in path order),
drops repeated URLs, then repeated texts, then records not in --lang, and
writes the survivors to --out, one JSON object per line. Malformed record
files are skipped and counted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuildCommand(cmd, args[0], out)
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "output JSON Lines file")
	cmd.Flags().String("lang", "", "keep only this ISO 639-1 language (default: keep all)")
	_ = cmd.MarkFlagRequired("out")
	bindFlag(v, "corpus.lang", cmd, "lang")
	return cmd
}

func runBuildCommand(cmd *cobra.Command, inputDir, outPath string) (err error) {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}

	src, err := corpus.DirSource(inputDir)
	if err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("%w: create output: %w", crawler.ErrInvalidInvocation, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()
	w := bufio.NewWriter(f)

	builder := corpus.NewBuilder(corpus.Options{
		TargetLanguage: e.cfg.Corpus.Lang,
		Detector: language.NewLingua(language.Config{
			Languages:           e.cfg.Language.Languages,
			MinRelativeDistance: e.cfg.Language.MinRelativeDistance,
		}),
		DetectChars: e.cfg.Extractor.DetectChars,
	}, e.logger.Named("corpus"))

	report, err := builder.Build(cmd.Context(), src, w)
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	report.Output = outPath
	e.logger.Info("corpus built",
		zap.String("out", outPath),
		zap.Int("total", report.Total),
		zap.Int("kept", report.Kept),
		zap.Int("malformed", report.Malformed),
	)
	if _, err := report.WriteTo(cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("print report: %w", err)
	}
	return nil
}
