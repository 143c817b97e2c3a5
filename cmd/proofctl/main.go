package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/consentgrid/proofengine/internal/sealing"
	"github.com/consentgrid/proofengine/internal/signing"
	"github.com/consentgrid/proofengine/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	engineURL string
	tenantID  string
	actor     string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "proofctl",
	Short: "Consent proof engine CLI",
	Long: `proofctl is the command-line interface for the consent proof engine.

It generates, verifies, and aggregates consent proof bundles against a
running engine, and manages recipient key pairs for encrypted bundles.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.proofctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if engineURL == "" {
			engineURL = viper.GetString("engine_url")
		}
		if engineURL == "" {
			engineURL = "http://localhost:8080"
		}
		if tenantID == "" {
			tenantID = viper.GetString("tenant_id")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.proofctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&engineURL, "engine", "", "Proof engine URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "Tenant id sent as X-Tenant-ID")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Acting principal sent as X-Actor")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if tenantID != "" {
		opts = append(opts, client.WithTenant(tenantID))
	}
	if actor != "" {
		opts = append(opts, client.WithActor(actor))
	}
	return client.New(engineURL, opts...)
}

// ── generate ─────────────────────────────────────────────────────────────────

var (
	genSubject    string
	genPolicy     string
	genConsent    string
	genType       string
	genEncryptTo  string
	genUnlockAt   string
	genDelegateTo string
	genPerms      []string
	genExpiry     time.Duration
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a proof bundle for a subject's consent",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		req := &client.GenerateRequest{
			SubjectID: genSubject,
			PolicyID:  genPolicy,
			ConsentID: genConsent,
			ProofType: genType,
		}
		if genExpiry > 0 {
			exp := time.Now().Add(genExpiry)
			req.ExpiresAt = &exp
		}
		if genEncryptTo != "" {
			req.Encrypt = &client.EncryptRequest{RecipientPublicKey: genEncryptTo}
		}
		if genUnlockAt != "" {
			unlockAt, err := time.Parse(time.RFC3339, genUnlockAt)
			if err != nil {
				return fmt.Errorf("parse --unlock-at: %w", err)
			}
			req.TimeLock = &client.TimeLockRequest{UnlockAt: unlockAt}
		}
		if genDelegateTo != "" {
			req.Delegation = &client.DelegationRequest{
				DelegateTo:  genDelegateTo,
				Permissions: genPerms,
			}
		}

		bundle, err := c.Generate(context.Background(), req)
		if err != nil {
			return fmt.Errorf("generate proof: %w", err)
		}

		fmt.Printf("✓ Proof bundle generated\n\n")
		fmt.Printf("  ID:        %s\n", bundle.BundleID)
		fmt.Printf("  Subject:   %s\n", bundle.SubjectID)
		fmt.Printf("  Data hash: %s\n", bundle.DataHash)
		fmt.Printf("  Signature: %s\n\n", truncate(bundle.Signature, 32))
		fmt.Printf("Next: proofctl verify %s\n", bundle.BundleID)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&genSubject, "subject", "", "Data subject id")
	generateCmd.Flags().StringVar(&genPolicy, "policy", "", "Policy id the consent refers to")
	generateCmd.Flags().StringVar(&genConsent, "consent", "", "Consent event id")
	generateCmd.Flags().StringVar(&genType, "type", "consent", "Proof type: consent, policy, delegation, aggregate")
	generateCmd.Flags().StringVar(&genEncryptTo, "encrypt-to", "", "Recipient X25519 public key (hex); enables payload encryption")
	generateCmd.Flags().StringVar(&genUnlockAt, "unlock-at", "", "Time-lock release time (RFC 3339)")
	generateCmd.Flags().StringVar(&genDelegateTo, "delegate-to", "", "Delegate identity granted access")
	generateCmd.Flags().StringSliceVar(&genPerms, "permissions", []string{"view"}, "Delegate permissions: view, verify, decrypt")
	generateCmd.Flags().DurationVar(&genExpiry, "expires-in", 0, "Bundle lifetime (e.g. 720h); 0 means no expiry")

	_ = generateCmd.MarkFlagRequired("subject")
	_ = generateCmd.MarkFlagRequired("policy")
	_ = generateCmd.MarkFlagRequired("consent")
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyFormat string

var verifyCmd = &cobra.Command{
	Use:   "verify <bundle-id>",
	Short: "Verify a proof bundle and print the structured verdict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		verdict, err := c.Verify(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("verify proof: %w", err)
		}

		if verifyFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(verdict)
		}

		mark := "✗"
		if verdict.Valid {
			mark = "✓"
		}
		fmt.Printf("%s Bundle %s: %s\n\n", mark, verdict.BundleID, verdict.Status)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  Signature valid\t%v\n", verdict.SignatureValid)
		fmt.Fprintf(w, "  Not expired\t%v\n", verdict.NotExpired)
		fmt.Fprintf(w, "  Time-lock released\t%v\n", verdict.TimeLockReleased)
		fmt.Fprintf(w, "  Snapshot consistent\t%v\n", verdict.SnapshotConsistent)
		w.Flush() //nolint:errcheck
		for _, issue := range verdict.Issues {
			fmt.Printf("\n  ! %s", issue)
		}
		if len(verdict.Issues) > 0 {
			fmt.Println()
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: text or json")
}

// ── get ──────────────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <bundle-id>",
	Short: "Fetch a proof bundle by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		bundle, err := c.Get(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get proof: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(bundle)
	},
}

// ── list ─────────────────────────────────────────────────────────────────────

var listCmd = &cobra.Command{
	Use:   "list <subject-id>",
	Short: "List every proof bundle generated for a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		bundles, err := c.ListBySubject(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("list proofs: %w", err)
		}
		if len(bundles) == 0 {
			fmt.Println("No proof bundles found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BUNDLE\tTYPE\tSTATUS\tCREATED\tEXPIRES")
		for _, b := range bundles {
			expires := "-"
			if b.ExpiresAt != nil {
				expires = b.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				b.BundleID, b.ProofType, b.VerificationStatus,
				b.CreatedAt.Format(time.RFC3339), expires)
		}
		return w.Flush()
	},
}

// ── aggregate ────────────────────────────────────────────────────────────────

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <bundle-id> [bundle-id] ...",
	Short: "Build a Merkle aggregation over multiple proof bundles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		agg, err := c.Aggregate(context.Background(), args)
		if err != nil {
			return fmt.Errorf("aggregate proofs: %w", err)
		}

		fmt.Printf("✓ Aggregation created\n\n")
		fmt.Printf("  ID:      %s\n", agg.AggregationID)
		fmt.Printf("  Root:    %s\n", agg.RootHash)
		fmt.Printf("  Bundles: %d\n", len(agg.ProofBundleIDs))
		return nil
	},
}

// ── cleanup ──────────────────────────────────────────────────────────────────

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired proof bundles for the tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		deleted, err := c.Cleanup(context.Background())
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		fmt.Printf("✓ Deleted %d expired bundle(s)\n", deleted)
		return nil
	},
}

// ── decrypt ──────────────────────────────────────────────────────────────────

var (
	decryptToken string
	decryptKey   string
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt <bundle-id>",
	Short: "Decrypt an encrypted bundle payload as an authorized delegate",
	Long: `decrypt obtains a delegation token for the bundle (unless one is supplied
with --token) and unwraps the payload with the recipient private key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if decryptKey == "" {
			return fmt.Errorf("--key is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		bundleID := args[0]

		token := decryptToken
		if token == "" {
			token, err = c.DelegationToken(ctx, bundleID)
			if err != nil {
				return fmt.Errorf("obtain delegation token: %w", err)
			}
		}

		payload, err := c.Decrypt(ctx, bundleID, token, decryptKey)
		if err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}
		fmt.Println(payload)
		return nil
	},
}

func init() {
	decryptCmd.Flags().StringVar(&decryptToken, "token", "", "Delegation token (fetched automatically when omitted)")
	decryptCmd.Flags().StringVar(&decryptKey, "key", "", "Recipient X25519 private key (hex)")
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenKind string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a key pair for signing or payload encryption",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch keygenKind {
		case "signing":
			pub, priv, err := signing.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Printf("Ed25519 signing key pair:\n\n")
			fmt.Printf("  Public:  %s\n", pub)
			fmt.Printf("  Private: %s\n\n", priv)
			fmt.Println("Set signing.private_key_hex / signing.public_key_hex in the engine config.")
		case "recipient":
			pub, priv, err := sealing.GenerateRecipientKeyPair()
			if err != nil {
				return err
			}
			fmt.Printf("X25519 recipient key pair:\n\n")
			fmt.Printf("  Public:  %s\n", pub)
			fmt.Printf("  Private: %s\n\n", priv)
			fmt.Println("Pass the public key to 'proofctl generate --encrypt-to'; keep the private key offline.")
		default:
			return fmt.Errorf("unknown key kind %q: use signing or recipient", keygenKind)
		}
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenKind, "kind", "recipient", "Key kind: signing or recipient")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the proofctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("proofctl %s\n", version)
	},
}

// truncate shortens s for display.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
