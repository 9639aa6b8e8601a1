package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/vision-ocr/config"
	"github.com/feichai0017/vision-ocr/internal/agent"
	"github.com/feichai0017/vision-ocr/internal/bootstrap"
	"github.com/feichai0017/vision-ocr/internal/service/ocr"
	"github.com/feichai0017/vision-ocr/pkg/converters"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

func run(ctx context.Context, opts *cliOptions, args []string, stdout, stderr io.Writer) error {
	files := selectInputs(args, stderr)
	if len(files) == 0 {
		printSupported(stdout)
		return errNoInput
	}

	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	var hooks bootstrap.Hooks
	if opts.stream {
		hooks.OnChunk = func(chunk string) { fmt.Fprint(stderr, chunk) }
	}
	pipeline, err := bootstrap.NewPipeline(cfg, log, hooks)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	return processAll(ctx, pipeline.Service, files, opts.asJSON, stdout, log)
}

// selectInputs keeps the arguments that exist and have a supported
// extension, in order.
func selectInputs(args []string, stderr io.Writer) []string {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err != nil:
			fmt.Fprintf(stderr, "Skipping %s: file not found\n", arg)
		case info.IsDir():
			fmt.Fprintf(stderr, "Skipping %s: is a directory\n", arg)
		case !agent.IsSupportedFile(arg):
			fmt.Fprintf(stderr, "Skipping %s: unsupported format\n", arg)
		default:
			files = append(files, arg)
		}
	}
	return files
}

func printSupported(w io.Writer) {
	images, documents := agent.SupportedExtensions()
	fmt.Fprintln(w, "Error: No valid files found")
	fmt.Fprintln(w, "Supported formats:")
	fmt.Fprintln(w, "Images:", strings.Join(images, ", "))
	fmt.Fprintln(w, "Documents:", strings.Join(documents, ", "))
}

type failedDocument struct {
	FileName string `json:"fileName"`
	Status   string `json:"status"`
	Error    string `json:"error"`
}

// processAll runs files through proc and reports each outcome as soon as it
// is known. Per-file failures are reported, not returned.
func processAll(ctx context.Context, proc ocr.Processor, files []string, asJSON bool, out io.Writer, log logger.Logger) error {
	conv := converters.NewJSONConverter()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	var writeErr error
	proc.ProcessFiles(ctx, files, func(o ocr.FileOutcome) {
		if writeErr != nil {
			return
		}
		if asJSON {
			writeErr = writeJSON(enc, conv, o)
		} else {
			writeText(out, o)
		}
		if o.Err != nil && !errors.Is(o.Err, context.Canceled) {
			log.Error("Failed to process file", logger.String("file", o.Path), logger.Error(o.Err))
		}
	})
	if writeErr != nil {
		return fmt.Errorf("failed to write result: %w", writeErr)
	}

	if asJSON {
		return nil
	}
	if ctx.Err() != nil {
		fmt.Fprintln(out, "\nProcess interrupted by user")
	}
	fmt.Fprintln(out, "Processing complete")
	return nil
}

func writeText(out io.Writer, o ocr.FileOutcome) {
	fmt.Fprintf(out, "Processing file: %s\n", filepath.Base(o.Path))
	if o.Result != nil && o.Result.HasText() {
		fmt.Fprintln(out, "\nFinal OCR Result:")
		fmt.Fprintln(out, o.Result.Text)
	} else {
		fmt.Fprintln(out, "Failed to process file")
	}
	fmt.Fprintf(out, "\nTotal processing time: %.1f seconds\n", o.Elapsed.Seconds())
}

func writeJSON(enc *json.Encoder, conv converters.DocumentConverter, o ocr.FileOutcome) error {
	if o.Err != nil {
		return enc.Encode(failedDocument{
			FileName: filepath.Base(o.Path),
			Status:   "failed",
			Error:    o.Err.Error(),
		})
	}
	doc, err := conv.Convert(o.Result)
	if err != nil {
		return err
	}
	return enc.Encode(doc)
}
