package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/attendance/internal/capture"
)

// addDescriptorFlags registers the flags shared by every command that needs a descriptor.
func addDescriptorFlags(cmd *cobra.Command) {
	cmd.Flags().String("descriptor", "", "JSON file holding the descriptor array")
	cmd.Flags().String("recognizer", "", "Command printing a descriptor as JSON (no output means no face)")
	cmd.Flags().Int("attempts", capture.DefaultPolicy().MaxAttempts, "Capture attempts before giving up")
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}
