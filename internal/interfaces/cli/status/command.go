package status

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"courseledger/internal/interfaces/cli/app"
	"courseledger/internal/interfaces/dto"
)

var (
	configPath string
	subjectID  string
	resourceID string
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a subject's license status and course progress",
		RunE:  run,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./configs/config.yaml)")
	cmd.Flags().StringVar(&subjectID, "subject", "", "Subject id")
	cmd.Flags().StringVar(&resourceID, "resource", "", "Resource id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("resource")

	return cmd
}

type report struct {
	License  dto.LicenseStatusResponse  `json:"license"`
	Progress dto.CourseProgressResponse `json:"progress"`
}

func run(cmd *cobra.Command, args []string) error {
	cfg, log, err := app.Bootstrap(configPath)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := report{
		License:  dto.ToLicenseStatusResponse(resourceID, a.Licenses.Status(ctx, subjectID, resourceID)),
		Progress: dto.ToCourseProgressResponse(resourceID, a.Progress.CourseProgress(ctx, subjectID, resourceID)),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
