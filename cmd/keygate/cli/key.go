package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/framingui/keygate/internal/apikey"
	"github.com/framingui/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
		Long:  "Issue, list, and revoke API keys on behalf of a user account.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// keyService opens the store and builds a KeyService plus the owning
// user's ID from an email.
func keyService(ctx context.Context, email string) (*service.KeyService, string, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, err
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return nil, "", nil, err
	}

	user, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		st.Close()
		return nil, "", nil, fmt.Errorf("looking up user %q: %w", email, err)
	}

	svc := service.NewKeyService(st, apikey.NewHasher(cfg.Auth.BcryptCost))
	return svc, user.ID, func() { st.Close() }, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		email     string
		label     string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		Long:  "Issue a new API key for a user. The plaintext is printed once and never stored.",
		Example: `  keygate key create --email dev@example.com --label "CI pipeline"
  keygate key create --email dev@example.com --label staging --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(email, label, expiresIn)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owning user's email address (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label (required)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Lifetime from now (e.g. 720h); 0 for no expiry")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("label")

	return cmd
}

func runKeyCreate(email, label string, expiresIn time.Duration) error {
	ctx := context.Background()
	svc, userID, closeStore, err := keyService(ctx, email)
	if err != nil {
		return err
	}
	defer closeStore()

	var expiresAt *time.Time
	if expiresIn > 0 {
		t := time.Now().Add(expiresIn)
		expiresAt = &t
	}

	issued, err := svc.Create(ctx, userID, label, expiresAt)
	if err != nil {
		return fmt.Errorf("creating key: %w", err)
	}

	fmt.Printf("Created API key %q (id %s)\n\n", label, issued.Key.ID)
	fmt.Printf("  %s\n\n", issued.Plaintext)
	fmt.Println("Store this key now. It will not be shown again.")
	if expiresAt != nil {
		fmt.Printf("Expires: %s\n", expiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		email      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd, email, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owning user's email address (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runKeyList(cmd *cobra.Command, email string, jsonOutput bool) error {
	ctx := context.Background()
	svc, userID, closeStore, err := keyService(ctx, email)
	if err != nil {
		return err
	}
	defer closeStore()

	keys, err := svc.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPREFIX\tLABEL\tCREATED\tLAST USED\tSTATUS")
	for _, k := range keys {
		status := "active"
		if k.Revoked() {
			status = "revoked"
		} else if k.Expired(time.Now()) {
			status = "expired"
		}
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.KeyPrefix, k.Label,
			k.CreatedAt.UTC().Format(time.RFC3339), lastUsed, status)
	}
	return tw.Flush()
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key permanently. Revoked keys fail verification immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(email, args[0])
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owning user's email address (required)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runKeyRevoke(email, keyID string) error {
	ctx := context.Background()
	svc, userID, closeStore, err := keyService(ctx, email)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := svc.Revoke(ctx, userID, keyID); err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}

	fmt.Printf("Revoked API key %s\n", keyID)
	return nil
}
