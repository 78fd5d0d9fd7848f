package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/attendance/pkg/dto"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a descriptor sample for a person",
	Long: `Enroll adds one descriptor sample to a person, creating the person on first
use. Enrolling the same id again strengthens its reference set.`,
	Args: cobra.NoArgs,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().String("id", "", "Identity id, e.g. the employee code (required)")
	enrollCmd.Flags().String("name", "", "Display name (required)")
	enrollCmd.Flags().String("category", "", "Profile category")
	enrollCmd.Flags().String("department", "", "Profile department")
	_ = enrollCmd.MarkFlagRequired("id")
	_ = enrollCmd.MarkFlagRequired("name")
	addDescriptorFlags(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	d, err := obtainDescriptor(ctx, cmd)
	if err != nil {
		return err
	}

	resp, err := newClient().Enroll(ctx, dto.EnrollRequest{
		IdentityID:  mustGetString(cmd, "id"),
		DisplayName: mustGetString(cmd, "name"),
		Category:    mustGetString(cmd, "category"),
		Department:  mustGetString(cmd, "department"),
		Descriptor:  d,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d sample(s))\n", resp.Message, resp.Samples)
	return nil
}
