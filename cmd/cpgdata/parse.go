package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/broadinstitute/cpg/internal/exitcode"
	"github.com/broadinstitute/cpg/internal/measure"
	"github.com/broadinstitute/cpg/internal/prefix"
)

type parseResult struct {
	Key    string         `json:"key"`
	Parsed *prefix.Parsed `json:"parsed,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [KEY...]",
		Short: "Parse object keys and print the extracted fields as JSON lines",
		Long:  "Parse object keys given as arguments, or one per line on stdin when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := args
			if len(keys) == 0 {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					if key := strings.TrimSpace(scanner.Text()); key != "" {
						keys = append(keys, key)
					}
				}
				if err := scanner.Err(); err != nil {
					return withCode(exitcode.StorageError, fmt.Errorf("read keys: %w", err))
				}
			}

			parser := prefix.NewParser()
			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, key := range keys {
				res := parseResult{Key: key}
				parsed, err := parser.Parse(key)
				switch {
				case err == nil:
					res.Parsed = &parsed
				case measure.IsRowError(err):
					res.Error = err.Error()
					failed++
				default:
					return err
				}
				if err := enc.Encode(res); err != nil {
					return withCode(exitcode.StorageError, fmt.Errorf("write result: %w", err))
				}
			}
			if failed > 0 {
				return withCode(exitcode.DataError, fmt.Errorf("%d of %d keys did not parse", failed, len(keys)))
			}
			return nil
		},
	}
}
