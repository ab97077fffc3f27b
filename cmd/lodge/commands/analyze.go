package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dyluth/lodge/internal/api"
	"github.com/dyluth/lodge/internal/app"
	"github.com/dyluth/lodge/internal/config"
	"github.com/dyluth/lodge/internal/coordinator"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/dyluth/lodge/internal/watch"
	"github.com/dyluth/lodge/pkg/packet"
	"github.com/spf13/cobra"
)

var (
	analyzeText       string
	analyzeFile       string
	analyzeImage      string
	analyzeDocumentID string
	analyzePage       int
	analyzeExclusions []string
	analyzeOutput     string
	analyzeLocal      bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text]",
	Short: "Run one page through the pipeline and stream the results",
	Long: `Run one page through the pipeline and print every packet of the round
as it arrives.

The page text comes from the argument, --text, or --file ("-" reads stdin).
A page image can be attached with --image.

By default the round runs on a lodge server (see --server). With --local the
workers and coordinator run inside this command instead.

Examples:
  lodge analyze "The GDPR applies to every data controller in the EU."

  lodge analyze --file page-3.txt --document-id contract-7 --page 3

  # Skip terms already known
  lodge analyze --file page.txt --exclude GDPR --exclude "data controller"

  # No server needed
  lodge analyze --local --output json "Paris is the capital of France."`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeText, "text", "t", "", "Page text")
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "Read page text from a file (\"-\" for stdin)")
	analyzeCmd.Flags().StringVar(&analyzeImage, "image", "", "Attach a page image from a file")
	analyzeCmd.Flags().StringVar(&analyzeDocumentID, "document-id", "", "Document the page belongs to")
	analyzeCmd.Flags().IntVar(&analyzePage, "page", 1, "Page number within the document")
	analyzeCmd.Flags().StringSliceVarP(&analyzeExclusions, "exclude", "x", nil, "Terms to skip (repeatable)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "default", "Output format (default or json)")
	analyzeCmd.Flags().BoolVar(&analyzeLocal, "local", false, "Run the pipeline in this process")
	addServerFlag(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	format, err := parseWatchFormat(analyzeOutput)
	if err != nil {
		return err
	}

	var positional string
	if len(args) == 1 {
		positional = args[0]
	}
	req, err := buildRequest(positional, cmd.InOrStdin())
	if err != nil {
		return printer.Error(
			"no page to analyze",
			err.Error(),
			[]string{"Pass the text as an argument, with --text, or with --file"},
		)
	}

	formatter, err := watch.NewFormatter(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var last packet.Packet
	emit := func(p packet.Packet) error {
		last = p
		return formatter.FormatPacket(p)
	}

	if analyzeLocal {
		err = analyzeInProcess(ctx, cmd, req, emit)
	} else {
		var client *api.Client
		client, err = newClient(cmd)
		if err != nil {
			return err
		}
		err = client.Analyze(ctx, req, emit)
		if err != nil {
			return printer.ErrorWithContext(
				"analysis failed",
				err.Error(),
				map[string]string{"Server": client.BaseURL()},
				[]string{"Start a server with: lodge serve", "Or run without one: lodge analyze --local"},
			)
		}
	}
	if err != nil {
		return err
	}

	return checkOutcome(last)
}

// buildRequest assembles the round request from flags. positional text
// wins over --text; --file is read when neither is set.
func buildRequest(positional string, stdin io.Reader) (coordinator.Request, error) {
	text := positional
	if text == "" {
		text = analyzeText
	}
	if text == "" && analyzeFile != "" {
		var data []byte
		var err error
		if analyzeFile == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(analyzeFile)
		}
		if err != nil {
			return coordinator.Request{}, fmt.Errorf("failed to read page: %w", err)
		}
		text = string(data)
	}

	page := packet.Page{
		DocumentID: analyzeDocumentID,
		PageNumber: analyzePage,
		Text:       text,
	}
	if analyzeImage != "" {
		data, err := os.ReadFile(analyzeImage)
		if err != nil {
			return coordinator.Request{}, fmt.Errorf("failed to read image: %w", err)
		}
		page.ImageBase64 = base64.StdEncoding.EncodeToString(data)
	}

	if strings.TrimSpace(page.Text) == "" && page.ImageBase64 == "" {
		return coordinator.Request{}, fmt.Errorf("page has no text or image")
	}
	return coordinator.Request{Input: page, Exclusions: analyzeExclusions}, nil
}

// analyzeInProcess runs a throwaway single-process lodge on loopback ports.
func analyzeInProcess(ctx context.Context, cmd *cobra.Command, req coordinator.Request, emit coordinator.EmitFunc) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Transport = config.TransportConfig{Kind: config.TransportLocal, Instance: cfg.Transport.Instance}
	cfg.Server = config.ServerConfig{HTTPAddr: "127.0.0.1:0", LiveAddr: "127.0.0.1:0"}

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return printer.Error("failed to build lodge", err.Error(), nil)
	}
	if err := a.Start(ctx); err != nil {
		return printer.Error("failed to start lodge", err.Error(), nil)
	}
	defer a.Shutdown(context.Background())

	if _, err := a.Coordinator().Run(ctx, req, emit); err != nil {
		return printer.Error("analysis failed", err.Error(), nil)
	}
	return nil
}

// checkOutcome turns a failed or truncated round into a non-zero exit.
func checkOutcome(last packet.Packet) error {
	switch {
	case last.Intent == packet.IntentTaskComplete && last.Sender == packet.PartyCoordinator:
		return nil
	case last.Intent == packet.IntentError:
		return printer.Error("round failed", last.Content.Error, nil)
	case last.ID == "":
		return printer.Error("round failed", "the server sent no packets", nil)
	default:
		return printer.Error("round incomplete", fmt.Sprintf("stream ended after %s from %s", last.Intent, last.Sender), nil)
	}
}

func parseWatchFormat(s string) (watch.OutputFormat, error) {
	switch s {
	case "default":
		return watch.OutputFormatDefault, nil
	case "json":
		return watch.OutputFormatJSON, nil
	default:
		return "", printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", s),
			[]string{"Valid formats: default, json"},
		)
	}
}
