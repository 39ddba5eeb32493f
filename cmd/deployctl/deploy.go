package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/submit"
)

func (c *cli) deployCmd() *cobra.Command {
	var (
		sets   []string
		tags   []string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "deploy <provider-type> <template>",
		Short: "submits a deployment",
		Long: `
	Fills the template's form with --set values and submits it. The deployment
	fields resource_group, location, subscription_id and tags are set the same
	way. Nothing is sent while any field is invalid.
	`,
		Example: `  deployctl deploy azure web-app --set resource_group=rg-web --set location=eastus --set vmCount=2 --follow`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseSets(sets)
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			t, err := fetchTemplate(ctx, client, args[0], args[1])
			if err != nil {
				return c.check(err)
			}

			form := forms.Synthesize(t.Name, t.Parameters, forms.DefaultCatalog())
			extra, _, err := fillForm(form, parsed)
			if err != nil {
				return err
			}
			values := form.Values()
			for k, v := range extra {
				values[k] = v
			}

			orch := submit.New(nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
			result, err := orch.Submit(ctx, client, submit.Request{
				UserEmail:    c.state.Email,
				Template:     t,
				ProviderType: args[0],
				Values:       values,
				Tags:         tags,
			})
			if err != nil {
				var serr *submit.Error
				if errors.As(err, &serr) {
					for _, fe := range serr.Fields {
						fmt.Fprintln(c.errOut, errorStyle.Render(fmt.Sprintf("%s: %s", fe.Field, fe.Message)))
					}
					if serr.Err != nil {
						return c.check(serr.Err)
					}
					return errors.New(serr.Message)
				}
				return err
			}

			fmt.Fprintf(c.out, "Deployment %s queued (%s, %s)\n", titleStyle.Render(result.DeploymentID), result.ProviderType, result.Status)
			if !follow {
				fmt.Fprintf(c.out, "Follow it with: deployctl logs %s --follow\n", result.DeploymentID)
				return nil
			}
			return c.followLogs(ctx, result.DeploymentID, logFilterFlags{})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set a field, name=value (repeatable)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "add a deployment tag (repeatable)")
	cmd.Flags().BoolVar(&follow, "follow", false, "follow the deployment's logs after submitting")
	return cmd
}
