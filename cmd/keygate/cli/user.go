package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/framingui/keygate/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create and list the user accounts that own API keys and licenses.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserGrantCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		plan     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user account",
		Example: `  keygate user create --email dev@example.com --plan pro
  keygate user create --email dev@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, plan)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&plan, "plan", "free", "Subscription plan: free, pro, enterprise")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, password, plan string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	switch plan {
	case "free", "pro", "enterprise":
	default:
		return fmt.Errorf("invalid plan %q: use free, pro, or enterprise", plan)
	}

	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user := &model.User{
		Email:        email,
		PasswordHash: string(hash),
		Plan:         plan,
		IsActive:     true,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Printf("Created user %q (plan %s, id %s)\n", email, plan, user.ID)
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tPLAN\tACTIVE")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", u.ID, u.Email, u.Plan, u.IsActive)
	}
	return tw.Flush()
}

// ---------- user grant ----------

func newUserGrantCmd() *cobra.Command {
	var (
		email string
		theme string
		tier  string
	)

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a theme license to a user",
		Example: `  keygate user grant --email dev@example.com --theme aurora --tier single`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserGrant(email, theme, tier)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email address (required)")
	cmd.Flags().StringVar(&theme, "theme", "", "Theme ID to license (required)")
	cmd.Flags().StringVar(&tier, "tier", "single", "License tier: single, bundle, trial")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("theme")

	return cmd
}

func runUserGrant(email, theme, tier string) error {
	switch tier {
	case "single", "bundle", "trial":
	default:
		return fmt.Errorf("invalid tier %q: use single, bundle, or trial", tier)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("looking up user %q: %w", email, err)
	}

	lic := &model.License{
		UserID:   user.ID,
		ThemeID:  theme,
		Tier:     tier,
		IsActive: true,
	}
	if err := st.GrantLicense(ctx, lic); err != nil {
		return fmt.Errorf("granting license: %w", err)
	}

	fmt.Printf("Granted %s license for theme %q to %s\n", tier, theme, email)
	return nil
}
