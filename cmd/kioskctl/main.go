package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/your-org/attendance/internal/client"
)

var (
	apiURL  string
	apiKey  string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "kioskctl",
	Short: "Kiosk-side client for the attendance API",
	Long: `kioskctl obtains a face descriptor, either from a JSON file or by running an
external recognizer command with bounded retries, and sends it to the
attendance API to enroll a person or mark attendance.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("ATT_API_URL", "http://localhost:8080"), "Attendance API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default $ATT_API_KEY)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	if apiKey == "" {
		apiKey = os.Getenv("ATT_API_KEY")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *client.Client {
	return client.New(apiURL, apiKey, timeout)
}
