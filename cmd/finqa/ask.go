package main

import (
	"context"
	"fmt"
	"strings"

	"finreport-qa/internal/bootstrap"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var askDocumentID string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about an indexed document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, stop, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer stop()
		return printAnswer(ctx, app, strings.Join(args, " "), askDocumentID)
	},
}

func init() {
	askCmd.Flags().StringVarP(&askDocumentID, "document", "d", "", "Document id to ask about")
	_ = askCmd.MarkFlagRequired("document")
	rootCmd.AddCommand(askCmd)
}

func printAnswer(ctx context.Context, app *bootstrap.App, question, documentID string) error {
	answer, err := app.QA.Answer(ctx, question, documentID, userID)
	if err != nil {
		return err
	}
	color.Cyan("\n%s\n", answer.Text)
	for i, src := range answer.Sources {
		fmt.Printf("  [%d] %s  passage %d  score %.3f\n", i+1, src.FileName, src.Seq, src.Score)
	}
	return nil
}
