package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

var (
	loginBaseURL  string
	loginTokenURL string
	loginClientID string
	loginRPS      float64
)

// readSecret reads the client secret. Replaced in tests.
var readSecret = readPassword

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Configure the FHIR server and its client credentials",
	Long: `Stores the FHIR server base URL and, optionally, OAuth2 client
credentials used to obtain access tokens.

The client secret is prompted for without echo when --token-url is set.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginBaseURL, "base-url", "", "FHIR base URL, e.g. https://api.medplum.com/fhir/R4")
	loginCmd.Flags().StringVar(&loginTokenURL, "token-url", "", "OAuth2 token endpoint")
	loginCmd.Flags().StringVar(&loginClientID, "client-id", "", "OAuth2 client ID")
	loginCmd.Flags().Float64Var(&loginRPS, "rps", 0, "maximum requests per second (default 10)")
	_ = loginCmd.MarkFlagRequired("base-url")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices(cmd)
	if err != nil {
		return err
	}
	if svc.Settings == nil {
		return errors.New("settings service not configured")
	}

	server := domain.ServerSettings{
		BaseURL:           strings.TrimSpace(loginBaseURL),
		TokenURL:          strings.TrimSpace(loginTokenURL),
		ClientID:          strings.TrimSpace(loginClientID),
		RequestsPerSecond: loginRPS,
	}

	if server.TokenURL != "" {
		if server.ClientID == "" {
			return errors.New("--client-id is required with --token-url")
		}
		cmd.Print("Client secret: ")
		server.ClientSecret = readSecret(cmd.InOrStdin())
		cmd.Println()
		if server.ClientSecret == "" {
			return errors.New("client secret must not be empty")
		}
	}

	if err := svc.Settings.SetServer(server); err != nil {
		return fmt.Errorf("failed to save server settings: %w", err)
	}

	cmd.Printf("Server set to %s.\n", server.BaseURL)
	if svc.Monitor != nil {
		cmd.Println("Run `fhirsync status` to check the connection.")
	}
	return nil
}

//nolint:errcheck // CLI helper, error ignored for UX
func readPassword(in io.Reader) string {
	// Try to read without echo
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return string(password)
		}
	}
	// Fallback to regular input
	reader := bufio.NewReader(in)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}
