package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-eps/internal/domain/prescription"
)

func shortFormCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shortform",
		Short: "Generate and validate short-form prescription ids",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate prescription ids for an organisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, _ := cmd.Flags().GetString("org")
			count, _ := cmd.Flags().GetInt("count")
			codec := prescription.NewCodec()
			for i := 0; i < count; i++ {
				id, err := codec.Generate(org)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	generateCmd.Flags().String("org", "", "prescribing organisation ODS code")
	generateCmd.Flags().Int("count", 1, "number of ids to generate")
	_ = generateCmd.MarkFlagRequired("org")

	validateCmd := &cobra.Command{
		Use:   "validate <id>...",
		Short: "Validate prescription ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invalid := 0
			for _, candidate := range args {
				id, err := prescription.ParseShortFormID(candidate)
				if err != nil {
					invalid++
					var ce *prescription.ChecksumError
					if errors.As(err, &ce) {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\tinvalid\t%s\n", candidate, ce.Reason)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tinvalid\t%v\n", candidate, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tvalid\n", id)
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d ids invalid", invalid, len(args))
			}
			return nil
		},
	}

	cmd.AddCommand(generateCmd, validateCmd)
	return cmd
}
