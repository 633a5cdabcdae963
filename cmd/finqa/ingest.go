package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"finreport-qa/internal/bootstrap"
	"finreport-qa/internal/model"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var ingestQuestion string

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a PDF and wait until it is indexed",
	Long:  `Uploads a PDF into the configured stack, shows the progress of each pipeline stage and optionally asks a question once the document is indexed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestQuestion, "question", "q", "", "Question to ask after the document is indexed")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// 后台执行以便观察各阶段进度
	cfg.Ingestion.Mode = "async"
	if cfg.Ingestion.Queue == "kafka" {
		cfg.Ingestion.Queue = "local"
	}
	app, stop, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer stop()

	doc, err := app.Ingest.Ingest(ctx, data, filepath.Base(args[0]), userID)
	if err != nil {
		return err
	}
	doc, err = waitForDocument(ctx, app, doc.ID)
	if err != nil {
		return err
	}
	if doc.Status == model.StatusFailed {
		return fmt.Errorf("ingestion failed (%s): %s", doc.FailureReason, doc.ErrorDetail)
	}
	color.Green("✓ %s indexed as %s (%d passages)\n", doc.FileName, doc.ID, doc.ChunkCount)

	if ingestQuestion == "" {
		return nil
	}
	return printAnswer(ctx, app, ingestQuestion, doc.ID)
}

func waitForDocument(ctx context.Context, app *bootstrap.App, documentID string) (*model.Document, error) {
	updates, cancel := app.Store.Watch(documentID)
	defer cancel()
	doc, err := app.Store.Lookup(ctx, documentID)
	if err != nil {
		return nil, err
	}

	bar := getProgressBar(100, "pending")
	defer func() { _ = bar.Finish() }()
	render := func(d *model.Document) {
		bar.Describe(color.BlueString(string(d.Status)))
		_ = bar.Set(d.Status.Progress())
	}
	render(doc)
	for !doc.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-updates:
			if !ok {
				return nil, model.NewError(model.KindDocumentNotFound, "document %s was deleted", documentID)
			}
			doc = &d
			render(doc)
		}
	}
	fmt.Println()
	return doc, nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
