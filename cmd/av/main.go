package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"av-go/internal/app"
	"av-go/internal/av"
	"av-go/internal/config"
	"av-go/internal/encryption"
	"av-go/internal/httpapi"
)

// exitTempFail tells scripts that retrying the same command may succeed.
const exitTempFail = 75

var (
	flagUser string
	flagRole string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if av.IsRetryable(err) {
			os.Exit(exitTempFail)
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// withApp builds an AVApp for one command, runs fn and records its outcome
// in the operation log.
func withApp(ctx context.Context, operation string, fn func(a *app.AVApp) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.NewAVApp(ctx, cfg, operation)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer a.Close()

	err = fn(a)
	a.Fail(err)
	return err
}

func currentPrincipal() (av.Principal, error) {
	if strings.TrimSpace(flagUser) == "" {
		return av.Principal{}, fmt.Errorf("no user given: pass --user or set AV_USER")
	}
	return av.Principal{ID: strings.TrimSpace(flagUser), Role: strings.TrimSpace(flagRole)}, nil
}

// readPassphrase prompts on the terminal without echo. AV_PASSPHRASE is used
// when set, for non-interactive runs.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("AV_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal: set AV_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func printVersions(w io.Writer, recs []*av.VersionRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tID\tCREATED\tSIZE\tTYPE\tNOTE")
	for i, rec := range recs {
		var notes []string
		if i == 0 {
			notes = append(notes, "head")
		}
		if rec.IsRoot() {
			notes = append(notes, "original")
		}
		if rec.Descriptor.RestoredFrom > 0 {
			notes = append(notes, fmt.Sprintf("restored from v%d", rec.Descriptor.RestoredFrom))
		}
		if rec.Encrypted {
			notes = append(notes, "encrypted")
		}
		fmt.Fprintf(tw, "v%d\t%s\t%s\t%d\t%s\t%s\n",
			rec.VersionNumber,
			rec.ID,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			rec.SizeBytes,
			rec.Descriptor.MimeType,
			strings.Join(notes, ", "),
		)
	}
	tw.Flush()
}

func printVersion(rec *av.VersionRecord) {
	fmt.Printf("v%d  %s  %s\n", rec.VersionNumber, rec.ID, rec.BlobLocation)
}

var rootCmd = &cobra.Command{
	Use:           "av",
	Short:         "Version history for media assets",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		fmt.Println("Run \"av db migrate\" before first use.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Vault:       %s (%s)\n", cfg.Vault.Type, cfg.Vault.Name)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("HTTP Addr:   %s\n", cfg.HTTP.Addr)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the version database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateDatabase(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that the vault and database are reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "Check", func(a *app.AVApp) error {
			if err := a.Check(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Vault and database OK.")
			return nil
		})
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc == nil {
			return fmt.Errorf("encryption is disabled: set encryption.type = \"age\" first")
		}
		if enc.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv("AV_PASSPHRASE") == "" {
			confirm, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if confirm != pass {
				return fmt.Errorf("passphrases do not match")
			}
		}

		if err := enc.Setup(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		unlock, _ := cmd.Flags().GetBool("unlock")
		addr, _ := cmd.Flags().GetString("addr")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, "Serve", func(a *app.AVApp) error {
			cfg := a.Config()
			if unlock && a.EncryptionEnabled() {
				pass, err := readPassphrase("Passphrase: ")
				if err != nil {
					return err
				}
				if err := a.Unlock(pass); err != nil {
					return err
				}
			}

			readTimeout, err := cfg.HTTP.ReadTimeoutDuration()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.HTTP.Addr
			}

			srv, err := httpapi.NewServer(a.Manager(), httpapi.Options{
				Logger:         a.Logger(),
				AllowedOrigins: cfg.HTTP.AllowedOrigins,
				MaxUploadBytes: cfg.HTTP.MaxUploadBytes(),
				Decryption:     a.Decryption(),
				Health:         a.Check,
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx, addr, readTimeout)
		})
	},
}

// asset command
var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Manage assets",
}

var assetImportCmd = &cobra.Command{
	Use:   "import PATH",
	Short: "Import a file, or every file in a directory, as new assets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := currentPrincipal()
		if err != nil {
			return err
		}
		recursive, _ := cmd.Flags().GetBool("recursive")
		folder, _ := cmd.Flags().GetString("folder")
		description, _ := cmd.Flags().GetString("description")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		desc := av.Descriptor{Folder: folder, Description: description, Tags: tags}

		return withApp(cmd.Context(), "ImportAsset", func(a *app.AVApp) error {
			recs, err := a.ImportPath(cmd.Context(), p, args[0], recursive, desc)
			for _, rec := range recs {
				fmt.Printf("%s  %s\n", rec.ID, rec.Descriptor.Filename)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d asset(s)\n", len(recs))
			return nil
		})
	},
}

// versions command
var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage the version history of an asset",
}

var versionsListCmd = &cobra.Command{
	Use:   "list ASSET",
	Short: "List visible versions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := currentPrincipal()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), "ListVersions", func(a *app.AVApp) error {
			recs, err := a.ListVersions(cmd.Context(), p, args[0])
			if err != nil {
				return err
			}
			printVersions(os.Stdout, recs)
			return nil
		})
	},
}

var versionsCreateCmd = &cobra.Command{
	Use:   "create ASSET FILE",
	Short: "Add a new version from a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := currentPrincipal()
		if err != nil {
			return err
		}
		overrides, err := overridesFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), "CreateVersion", func(a *app.AVApp) error {
			rec, err := a.CreateVersionFromFile(cmd.Context(), p, args[0], args[1], overrides)
			if err != nil {
				return err
			}
			printVersion(rec)
			return nil
		})
	},
}

var versionsRestoreCmd = &cobra.Command{
	Use:   "restore ASSET VERSION",
	Short: "Make a prior version the new head",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := currentPrincipal()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), "RestoreVersion", func(a *app.AVApp) error {
			rec, err := a.RestoreVersion(cmd.Context(), p, args[0], args[1])
			if err != nil {
				return err
			}
			printVersion(rec)
			return nil
		})
	},
}

var versionsDeleteCmd = &cobra.Command{
	Use:   "delete ASSET VERSION",
	Short: "Hide a version from the history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := currentPrincipal()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), "DeleteVersion", func(a *app.AVApp) error {
			if err := a.DeleteVersion(cmd.Context(), p, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Deleted version %s\n", args[1])
			return nil
		})
	},
}

var versionsGetCmd = &cobra.Command{
	Use:   "get ASSET VERSION",
	Short: "Write the content of a version to a file or stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := currentPrincipal()
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")

		return withApp(cmd.Context(), "GetContent", func(a *app.AVApp) error {
			rec, err := a.GetVersion(cmd.Context(), p, args[0], args[1])
			if err != nil {
				return err
			}
			if rec.Encrypted && a.EncryptionEnabled() {
				pass, err := readPassphrase("Passphrase: ")
				if err != nil {
					return err
				}
				if err := a.Unlock(pass); err != nil {
					return err
				}
			}

			if output == "" || output == "-" {
				return a.WriteContent(cmd.Context(), p, args[0], args[1], os.Stdout)
			}
			return writeContentFile(cmd.Context(), a, p, args[0], args[1], output)
		})
	},
}

// writeContentFile writes to a temp file next to path and renames it into place.
func writeContentFile(ctx context.Context, a *app.AVApp, p av.Principal, rootID, versionID, path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".av-get-*")
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	tmp := f.Name()

	err = a.WriteContent(ctx, p, rootID, versionID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}

func overridesFromFlags(cmd *cobra.Command) (av.DescriptorOverrides, error) {
	var o av.DescriptorOverrides
	flags := cmd.Flags()

	if flags.Changed("filename") {
		v, _ := flags.GetString("filename")
		o.Filename = &v
	}
	if flags.Changed("description") {
		v, _ := flags.GetString("description")
		o.Description = &v
	}
	if flags.Changed("folder") {
		v, _ := flags.GetString("folder")
		o.Folder = &v
	}
	if flags.Changed("width") {
		v, _ := flags.GetInt("width")
		o.Width = &v
	}
	if flags.Changed("height") {
		v, _ := flags.GetInt("height")
		o.Height = &v
	}
	if flags.Changed("tag") {
		o.Tags, _ = flags.GetStringSlice("tag")
	}
	if flags.Changed("extra") {
		extra, _ := flags.GetStringToString("extra")
		o.Extra = extra
	}

	if (o.Width != nil && *o.Width < 0) || (o.Height != nil && *o.Height < 0) {
		return o, errors.New("width and height must not be negative")
	}
	return o, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", os.Getenv("AV_USER"), "Acting user id (default $AV_USER)")
	rootCmd.PersistentFlags().StringVar(&flagRole, "role", os.Getenv("AV_ROLE"), "Acting user role, e.g. admin (default $AV_ROLE)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// asset subcommands
	assetCmd.AddCommand(assetImportCmd)
	assetImportCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	assetImportCmd.Flags().String("folder", "", "Folder attribute for the new assets")
	assetImportCmd.Flags().String("description", "", "Description attribute for the new assets")
	assetImportCmd.Flags().StringSlice("tag", nil, "Tag to attach (repeatable)")

	// versions subcommands
	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsCreateCmd)
	versionsCmd.AddCommand(versionsRestoreCmd)
	versionsCmd.AddCommand(versionsDeleteCmd)
	versionsCmd.AddCommand(versionsGetCmd)
	versionsCreateCmd.Flags().String("filename", "", "Override the filename attribute")
	versionsCreateCmd.Flags().String("description", "", "Override the description")
	versionsCreateCmd.Flags().String("folder", "", "Override the folder")
	versionsCreateCmd.Flags().Int("width", 0, "Override the width in pixels")
	versionsCreateCmd.Flags().Int("height", 0, "Override the height in pixels")
	versionsCreateCmd.Flags().StringSlice("tag", nil, "Replace the tags (repeatable)")
	versionsCreateCmd.Flags().StringToString("extra", nil, "Extra attributes as key=value")
	versionsGetCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")

	serveCmd.Flags().Bool("unlock", false, "Prompt for the passphrase so encrypted content can be served")
	serveCmd.Flags().String("addr", "", "Listen address (default http.addr from config)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(assetCmd)
	rootCmd.AddCommand(versionsCmd)
}
