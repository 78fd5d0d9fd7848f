package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/attendance/pkg/dto"
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify a face and mark attendance",
	Args:  cobra.NoArgs,
	RunE:  runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().String("image", "", "Optional image reference or data URL sent for audit")
	addDescriptorFlags(identifyCmd)
}

func runIdentify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	d, err := obtainDescriptor(ctx, cmd)
	if err != nil {
		return err
	}

	resp, err := newClient().Identify(ctx, dto.IdentifyRequest{
		Descriptor: d,
		Image:      mustGetString(cmd, "image"),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !resp.Found {
		fmt.Fprintln(out, "not recognized")
		return nil
	}
	distance := 0.0
	if resp.Distance != nil {
		distance = *resp.Distance
	}
	fmt.Fprintf(out, "%s (%s) distance=%.4f\n", resp.Name, resp.EmpID, distance)
	return nil
}
