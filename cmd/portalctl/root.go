package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wispberry-tech/wispy-portal/action"
	"github.com/wispberry-tech/wispy-portal/client"
)

const defaultURL = "http://localhost:8080"

// cli is the state shared by every command.
type cli struct {
	in  io.Reader
	out io.Writer

	url       string
	token     string
	tokenFile string
	assumeYes bool

	client *client.Client
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	c := &cli{in: in, out: out}

	root := &cobra.Command{
		Use:   "portalctl",
		Short: "Manage portal accounts, organizations and subscriptions",
		Long: `portalctl talks to a running portal over its /api/auth endpoints.

The session token is kept in a token file after login or signup, so later
commands act as the same user. PORTAL_URL and PORTAL_TOKEN override the
defaults.

Examples:
  portalctl login ada@example.com
  portalctl org create Acme
  portalctl org invite bob@example.com --role admin
  portalctl billing upgrade pro`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.StringVar(&c.url, "url", cmp.Or(os.Getenv("PORTAL_URL"), defaultURL), "portal base URL")
	flags.StringVar(&c.token, "token", os.Getenv("PORTAL_TOKEN"), "session token (defaults to the token file)")
	flags.StringVar(&c.tokenFile, "token-file", defaultTokenFile(), "where the session token is stored")
	flags.BoolVarP(&c.assumeYes, "yes", "y", false, "answer yes to confirmations")

	root.AddCommand(
		newSignUpCmd(c),
		newLoginCmd(c),
		newLogoutCmd(c),
		newWhoamiCmd(c),
		newSessionsCmd(c),
		newPasswordCmd(c),
		newOrgCmd(c),
		newAdminCmd(c),
		newBillingCmd(c),
	)
	return root
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".portalctl-token"
	}
	return filepath.Join(dir, "portalctl", "token")
}

func (c *cli) setup() error {
	if c.token == "" {
		token, err := c.readToken()
		if err != nil {
			return err
		}
		c.token = token
	}
	c.client = client.New(c.url, client.WithToken(c.token))
	return nil
}

func (c *cli) readToken() (string, error) {
	raw, err := os.ReadFile(c.tokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// saveToken stores the client's current token; an empty token removes the file.
func (c *cli) saveToken() error {
	token := c.client.Token()
	if token == "" {
		if err := os.Remove(c.tokenFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove token file: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.tokenFile), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(c.tokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// reportedError marks an error the notifier has already shown.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

// run executes op as an action with terminal feedback.
func run[T any](cmd *cobra.Command, c *cli, op action.Operation[T], opts action.Options[T]) (T, error) {
	opts.Notifier = &action.TextNotifier{W: c.out}
	opts.Confirmer = &action.PromptConfirmer{In: c.in, Out: c.out, Assume: c.assumeYes}
	opts.Navigator = action.PrintNavigator{W: c.out}
	data, err := action.New(op, opts).Execute(cmd.Context())
	if err != nil && !errors.Is(err, action.ErrCancelled) {
		return data, reportedError{err}
	}
	return data, err
}

// readPassword reads a password from the --password flag or the first line of input.
func (c *cli) readPassword(flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprintf(c.out, "%s: ", prompt)
	var password string
	if _, err := fmt.Fscanln(c.in, &password); err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return password, nil
}
