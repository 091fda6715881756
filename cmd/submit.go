package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/client"
	"github.com/hireloop/cv-screener/internal/evaluation"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Upload a CV and project report to a running server and evaluate them",
	Run: func(cmd *cobra.Command, _ []string) {
		submit(cmd)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringP("server", "s", "http://localhost:8080", "base URL of the cv-screener server")
	submitCmd.Flags().String("job-title", "", "job title to evaluate against")
	submitCmd.Flags().String("cv", "", "path to the CV file")
	submitCmd.Flags().String("report", "", "path to the project report file")
	submitCmd.Flags().BoolP("wait", "w", false, "wait for the result without asking")
}

func submit(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lgr := newLogger()

	serverURL, _ := cmd.Flags().GetString("server")

	jobTitle, err := flagOrPrompt(cmd, "job-title", "Job title")
	if err != nil {
		lgr.Fatal("reading job title", zap.Error(err))
	}
	cvPath, err := flagOrPrompt(cmd, "cv", "Path to the CV file")
	if err != nil {
		lgr.Fatal("reading cv path", zap.Error(err))
	}
	reportPath, err := flagOrPrompt(cmd, "report", "Path to the project report file")
	if err != nil {
		lgr.Fatal("reading report path", zap.Error(err))
	}

	c := client.New(ctx, serverURL, lgr)

	uploaded, err := c.Upload(cvPath, reportPath)
	if err != nil {
		lgr.Fatal("uploading documents", zap.Error(err))
	}
	lgr.Info("documents uploaded",
		zap.Int64("cv_id", uploaded.CVID),
		zap.Int64("report_id", uploaded.ReportID),
	)

	submitted, err := c.Evaluate(jobTitle, uploaded.CVID, uploaded.ReportID)
	if err != nil {
		lgr.Fatal("submitting evaluation", zap.Error(err))
	}
	lgr.Info("evaluation queued", zap.Int64("job_id", submitted.ID))

	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		prompt := promptui.Select{
			Label: "Wait for the result?",
			Items: []string{PromptYes, PromptNo},
		}
		_, action, err := prompt.Run()
		if err != nil {
			lgr.Fatal("exiting", zap.Error(err))
		}
		if action == PromptNo {
			fmt.Printf("poll the result with: curl %s/result/%d\n", serverURL, submitted.ID)
			return
		}
	}

	result, err := c.PollResult(submitted.ID, 2*time.Second)
	if err != nil {
		lgr.Fatal("waiting for the result", zap.Error(err))
	}

	pretty, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(pretty))

	if result.Status == evaluation.StatusFailed {
		lgr.Fatal("evaluation failed", zap.String("error", result.Error))
	}
}

func flagOrPrompt(cmd *cobra.Command, flag, label string) (string, error) {
	value, _ := cmd.Flags().GetString(flag)
	if strings.TrimSpace(value) != "" {
		return value, nil
	}

	prompt := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return errors.New("a value is required")
			}
			return nil
		},
	}
	return prompt.Run()
}
