package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
)

func algorithmsCmd() *cobra.Command {
	var available bool

	cmd := &cobra.Command{
		Use:   "algorithms",
		Short: "List registered algorithms and their key sizes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ALGORITHM\tCAPABILITY\tCLASS\tPUBLIC\tPRIVATE\tCT/SIG\tSECRET\tSTATUS")
			for _, info := range primitive.Default().Describe() {
				if available && !info.Available {
					continue
				}
				status := "available"
				if !info.Available {
					status = "unavailable: " + info.Reason
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					info.ID, info.Capability, info.Class,
					info.Sizes.Public, info.Sizes.Private, info.Sizes.CiphertextOrSignature, info.Sizes.SharedSecret,
					status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&available, "available", false, "hide algorithms this build cannot run")
	return cmd
}
