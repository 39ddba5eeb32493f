// Command deployctl drives the deployment API from a terminal: it renders
// template forms, submits deployments and follows their logs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/multicloud-portal/portal/internal/upstream"
	"github.com/multicloud-portal/portal/pkg/config"
)

// cli carries the state shared by every command.
type cli struct {
	statePath string
	apiURL    string
	timeout   time.Duration
	cfg       *config.Config
	state     *State
	out       io.Writer
	errOut    io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{cfg: config.LoadWithDefaults(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "deployctl",
		Short:         "deploys infrastructure templates through the deployment API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			st, err := LoadState(c.statePath)
			if err != nil {
				return err
			}
			c.state = st
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.statePath, "state", defaultStatePath(), "path of the login state file")
	flags.StringVar(&c.apiURL, "api", "", "deployment API base URL (default: saved login, then PORTAL_API_URL)")
	flags.DurationVar(&c.timeout, "timeout", c.cfg.UpstreamTimeout, "timeout for each API request")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.templatesCmd(),
		c.deployCmd(),
		c.logsCmd(),
		c.deploymentsCmd(),
		keygenCmd(),
	)
	return root
}

// baseURL picks the API address: --api, then the saved login, then the environment.
func (c *cli) baseURL() string {
	switch {
	case c.apiURL != "":
		return c.apiURL
	case c.state != nil && c.state.APIURL != "":
		return c.state.APIURL
	default:
		return c.cfg.UpstreamURL
	}
}

// client returns an API client carrying the saved token.
func (c *cli) client() (*upstream.Client, error) {
	if c.state == nil || c.state.Token == "" {
		return nil, errNotLoggedIn
	}
	return upstream.NewClient(c.baseURL(), c.timeout).WithToken(c.state.Token), nil
}

var errNotLoggedIn = errors.New("not logged in, run: deployctl login")

// check turns an expired session into a forced logout.
func (c *cli) check(err error) error {
	if err == nil || !upstream.IsUnauthorized(err) {
		return err
	}
	if c.state != nil && c.state.Token != "" {
		c.state.Clear()
		if serr := c.state.Save(c.statePath); serr != nil {
			fmt.Fprintf(c.errOut, "warning: %v\n", serr)
		}
	}
	return errors.New("session expired, run: deployctl login")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
