package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/vision-ocr/config"
)

var version = "0.1.0"

// cliOptions holds flag values. Zero values leave the loaded configuration
// untouched.
type cliOptions struct {
	configPath string
	envFile    string
	asJSON     bool
	stream     bool
	dpi        int
	endpoint   string
	model      string
	timeout    time.Duration
	languages  []string
	noRemote   bool
	noLocal    bool
	logLevel   string
	logOutput  []string
}

var errNoInput = errors.New("no valid files found")

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "visionocr [files...]",
		Short: "Extract text from images and PDF documents",
		Long: `visionocr extracts plain text from images and PDF documents.

Each page is sent to a vision language model served by Ollama. Pages the
model cannot read fall back to the local Tesseract engine. PDFs are
rasterized with pdftoppm before recognition.`,
		Example: `  visionocr scan.png
  visionocr --json invoice.pdf receipt.jpg
  visionocr --stream --model llama3.2-vision report.pdf
  visionocr --no-remote --lang eng,deu letter.tiff`,
		Version:       version,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&opts.envFile, "env-file", ".env", "dotenv file read before the process environment")
	f.BoolVar(&opts.asJSON, "json", false, "print each result as a JSON document")
	f.BoolVar(&opts.stream, "stream", false, "echo model output to stderr as it arrives")
	f.IntVar(&opts.dpi, "dpi", 0, "PDF rasterization resolution")
	f.StringVar(&opts.endpoint, "endpoint", "", "Ollama base URL")
	f.StringVarP(&opts.model, "model", "m", "", "vision model name")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-page model request timeout")
	f.StringSliceVarP(&opts.languages, "lang", "l", nil, "Tesseract languages")
	f.BoolVar(&opts.noRemote, "no-remote", false, "skip the vision model")
	f.BoolVar(&opts.noLocal, "no-local", false, "skip the Tesseract fallback")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringSliceVar(&opts.logOutput, "log-output", []string{"stderr"}, "log destinations")

	return cmd
}

// apply layers the flag values over cfg.
func (o *cliOptions) apply(cfg *config.Config) {
	if o.dpi > 0 {
		cfg.Raster.DPI = o.dpi
	}
	if o.endpoint != "" {
		cfg.Ollama.Endpoint = o.endpoint
	}
	if o.model != "" {
		cfg.Ollama.Model = o.model
	}
	if o.timeout > 0 {
		cfg.Ollama.Timeout = o.timeout
	}
	if len(o.languages) > 0 {
		cfg.Tesseract.Languages = o.languages
	}
	if o.noRemote {
		cfg.Ollama.Enabled = false
	}
	if o.noLocal {
		cfg.Tesseract.Enabled = false
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if len(o.logOutput) > 0 {
		cfg.Log.OutputPaths = o.logOutput
	}
}
