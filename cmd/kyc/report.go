package main

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/joelkehle/kyc-agency/internal/report"
	"github.com/joelkehle/kyc-agency/internal/store"
)

var (
	reportCustomer string
	reportFormat   string
	reportOutput   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the case report of a customer",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(strings.TrimSpace(reportFormat))
		if format != "md" && format != "html" && format != "pdf" {
			return eris.Errorf("unknown report format %q", reportFormat)
		}
		if format == "pdf" && reportOutput == "" {
			return eris.New("--output is required for pdf reports")
		}

		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		ctx := cmd.Context()
		c, err := st.FindCase(ctx, reportCustomer)
		if err != nil {
			return err
		}
		audit, err := st.ListAudit(ctx, c.ID)
		if err != nil {
			return err
		}
		doc := report.Build(c, audit, time.Now())

		var out []byte
		switch format {
		case "md":
			out = []byte(doc.Markdown)
		case "html":
			page, err := doc.HTML()
			if err != nil {
				return err
			}
			out = []byte(page)
		case "pdf":
			r := report.NewPDFRenderer(cfg.Report.ChromePath, time.Duration(cfg.Report.PDFTimeoutSecs)*time.Second)
			if out, err = r.Render(ctx, doc); err != nil {
				return err
			}
		}
		return writeOutput(reportOutput, out)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportCustomer, "customer", "", "customer id of the case")
	reportCmd.Flags().StringVar(&reportFormat, "format", "md", "md, html or pdf")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "path to write the report (defaults to stdout)")
	_ = reportCmd.MarkFlagRequired("customer")
	rootCmd.AddCommand(reportCmd)
}
