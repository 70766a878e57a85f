package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	apirec "github.com/kilianp07/arbitrage/api/recommendation"
	"github.com/kilianp07/arbitrage/config"
	"github.com/kilianp07/arbitrage/core/lp"
	corerec "github.com/kilianp07/arbitrage/core/recommendation"
	"github.com/kilianp07/arbitrage/core/scheduler"
	"github.com/kilianp07/arbitrage/pkg/export"
)

var (
	recInput    string
	recSitePath string
	recFormat   string
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Compute one recommendation from a JSON request",
	Long: `Reads a request body as accepted by POST /api/recommendation from
--input (stdin by default) and prints the schedule. Battery parameters
come from --site, or from the site section of --config.`,
	RunE: recommend,
}

func init() {
	recommendCmd.Flags().StringVarP(&recInput, "input", "i", "-", "request file, - for stdin")
	recommendCmd.Flags().StringVar(&recSitePath, "site", "", "site file (yaml or json)")
	recommendCmd.Flags().StringVarP(&recFormat, "format", "f", export.FormatTable, "output format: json, csv or table")
	rootCmd.AddCommand(recommendCmd)
}

func loadSite() (scheduler.Config, error) {
	if recSitePath != "" {
		return scheduler.LoadConfig(recSitePath)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg.Site, nil
}

func recommend(cmd *cobra.Command, _ []string) error {
	site, err := loadSite()
	if err != nil {
		return err
	}
	var in io.Reader = cmd.InOrStdin()
	if recInput != "-" {
		f, err := os.Open(recInput)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	req, err := apirec.DecodeRequest(in, site, time.Now())
	if err != nil {
		return err
	}
	svc := corerec.NewService(corerec.WithTimeout(site.SolveTimeout()))
	rec, err := svc.Recommend(context.Background(), req)
	if err != nil {
		return err
	}
	if err := export.Write(cmd.OutOrStdout(), rec, recFormat); err != nil {
		return err
	}
	if rec.Status != lp.StatusOptimal {
		return fmt.Errorf("no schedule: solver status %s", rec.Status)
	}
	return nil
}
