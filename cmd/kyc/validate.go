package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/evaluator"
	"github.com/joelkehle/kyc-agency/internal/extract"
	"github.com/joelkehle/kyc-agency/internal/kyc"
	"github.com/joelkehle/kyc-agency/internal/validation"
)

var (
	validateKind      string
	validateExtracted string
	validateDeclared  string
	validateRulesOnly bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check one extracted document against a declared customer record",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := document.ParseKind(validateKind)

		rawExtracted, err := os.ReadFile(validateExtracted)
		if err != nil {
			return eris.Wrap(err, "read extracted document")
		}
		extracted, err := extract.Fields(string(rawExtracted), kind)
		if err != nil {
			return eris.Wrap(err, "parse extracted document")
		}

		rawDeclared, err := os.ReadFile(validateDeclared)
		if err != nil {
			return eris.Wrap(err, "read declared record")
		}
		var customer kyc.Customer
		if err := json.Unmarshal(rawDeclared, &customer); err != nil {
			return eris.Wrap(err, "decode declared record")
		}

		engine := validation.NewEngine(nil, cfg.Validation.Thresholds())
		if !validateRulesOnly && cfg.Validation.UseLLM {
			llm, err := evaluator.NewAnthropicCallerFromEnv(evaluator.ModelOptions{
				Model:     cfg.Anthropic.Model,
				MaxTokens: cfg.Anthropic.MaxTokens,
			})
			if err != nil {
				zap.L().Info("validating with rules only", zap.Error(err))
			} else {
				engine = validation.NewEngine(llm, cfg.Validation.Thresholds())
			}
		}

		res := engine.Validate(cmd.Context(), extracted, customer.Declared(), kind)
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode result")
		}
		return writeOutput("", append(out, '\n'))
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateKind, "kind", "", "document kind: id_proof, address_proof or employment_proof")
	validateCmd.Flags().StringVar(&validateExtracted, "extracted", "", "path to the extracted fields (JSON or a raw model reply)")
	validateCmd.Flags().StringVar(&validateDeclared, "declared", "", "path to the declared customer record (JSON)")
	validateCmd.Flags().BoolVar(&validateRulesOnly, "rules-only", false, "skip the model and use the rule-based checks")
	_ = validateCmd.MarkFlagRequired("kind")
	_ = validateCmd.MarkFlagRequired("extracted")
	_ = validateCmd.MarkFlagRequired("declared")
	rootCmd.AddCommand(validateCmd)
}
