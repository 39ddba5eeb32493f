package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/multicloud-portal/portal/internal/upstream"
)

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "logs in and saves the session token",
		Long: `
	Logs in to the deployment API. The password is read from standard input
	when --password is not given. The token is saved in the state file.
	`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				fmt.Fprint(c.errOut, "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			base := c.baseURL()
			result, err := upstream.NewClient(base, c.timeout).Login(cmd.Context(), email, password)
			if err != nil {
				if upstream.IsUnauthorized(err) {
					return errors.New("invalid email or password")
				}
				return err
			}

			c.state.APIURL = base
			c.state.Token = result.AccessToken
			c.state.Email = email
			c.state.Role = result.User.Role
			if err := c.state.Save(c.statePath); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Logged in to %s as %s (%s)\n", base, email, roleOrDefault(result.User.Role))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "forgets the saved session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.state.Clear()
			if err := c.state.Save(c.statePath); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Logged out")
			return nil
		},
	}
}
