package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shelfcheck/internal/domain"
	"shelfcheck/internal/usecase"
)

var (
	validateStore     string
	validateThreshold float64
	validateFormat    string
)

var validateCmd = &cobra.Command{
	Use:   "validate <items.json>",
	Short: "Validate extracted shelf items against the catalog",
	Long: `Validate the items extracted from a shelf photo. The file holds either an array
of {"raw_name", "observed_price"} items or a full request
{"store_id", "items", "threshold"}. Flags override the file's values.

Examples:
  shelfcheck validate items.json --store 810
  shelfcheck validate items.json --store 810 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateStore, "store", "s", "", "store ID")
	validateCmd.Flags().Float64VarP(&validateThreshold, "threshold", "t", -1, "similarity threshold (default from config)")
	validateCmd.Flags().StringVar(&validateFormat, "format", "text", "output format: text or json")
}

func readValidateRequest(path string) (usecase.ValidateRequest, error) {
	var req usecase.ValidateRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		err = json.Unmarshal(data, &req.Items)
	} else {
		err = json.Unmarshal(data, &req)
	}
	if err != nil {
		return req, domain.InputError("read items", "%s: %v", path, err)
	}
	return req, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	if validateFormat != "text" && validateFormat != "json" {
		return fmt.Errorf("unknown format %q", validateFormat)
	}
	req, err := readValidateRequest(args[0])
	if err != nil {
		return err
	}
	if validateStore != "" {
		req.StoreID = validateStore
	}
	if validateThreshold >= 0 {
		t := validateThreshold
		req.Threshold = &t
	}

	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.validator.Validate(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if validateFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(out, usecase.FormatReport(resp.StoreID, resp.Verdicts))
	return nil
}
