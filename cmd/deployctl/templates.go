package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/upstream"
)

func (c *cli) templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "lists and inspects deployment templates",
	}
	cmd.AddCommand(c.templatesListCmd(), c.templatesShowCmd(), c.templatesFormCmd())
	return cmd
}

func (c *cli) templatesListCmd() *cobra.Command {
	var providerType, cloud string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "lists the available templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			templates, err := client.ListTemplates(cmd.Context(), providerType, cloud)
			if err != nil {
				return c.check(err)
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPROVIDER\tCLOUD\tDESCRIPTION")
			for _, t := range templates {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.ProviderType, t.CloudProvider, t.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&providerType, "provider", "", "only templates of this provider type")
	cmd.Flags().StringVar(&cloud, "cloud", "", "only templates for this cloud (azure, aws, gcp)")
	return cmd
}

// fetchTemplate loads a template and its parameters in declaration order.
func fetchTemplate(ctx context.Context, client *upstream.Client, providerType, name string) (*models.Template, error) {
	t, err := client.GetTemplate(ctx, providerType, name)
	if err != nil {
		return nil, err
	}
	if t.Name == "" {
		t.Name = name
	}
	if t.ProviderType == "" {
		t.ProviderType = providerType
	}
	if len(t.Parameters) == 0 {
		if t.Parameters, err = client.GetParameters(ctx, providerType, name); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (c *cli) templatesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <provider-type> <name>",
		Short: "shows a template and its parameters",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			t, err := fetchTemplate(cmd.Context(), client, args[0], args[1])
			if err != nil {
				return c.check(err)
			}
			fmt.Fprintln(c.out, titleStyle.Render(t.Name))
			if t.Description != "" {
				fmt.Fprintln(c.out, t.Description)
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PARAMETER\tTYPE\tREQUIRED\tDEFAULT\tALLOWED")
			for _, p := range t.Parameters {
				def := ""
				if p.Default != nil {
					def = fmt.Sprint(p.Default)
				}
				allowed := make([]string, len(p.AllowedValues))
				for i, v := range p.AllowedValues {
					allowed[i] = fmt.Sprint(v)
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Type, p.Required, def, strings.Join(allowed, "|"))
			}
			return tw.Flush()
		},
	}
}

// parseSets splits repeated key=value flags, keeping their order.
func parseSets(sets []string) ([][2]string, error) {
	out := make([][2]string, 0, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --set %q, want name=value", s)
		}
		out = append(out, [2]string{strings.TrimSpace(k), v})
	}
	return out, nil
}

// fillForm applies sets to a synthesized form in order, so a cascade parent
// set before its child resets the child first. Values for fields the form
// does not have are returned separately.
func fillForm(form *forms.Form, sets [][2]string) (extra map[string]string, changes []forms.Change, err error) {
	extra = map[string]string{}
	for _, kv := range sets {
		if _, ok := form.Field(kv[0]); !ok {
			extra[kv[0]] = kv[1]
			continue
		}
		ch, err := form.Set(kv[0], kv[1])
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", kv[0], err)
		}
		changes = append(changes, ch...)
	}
	return extra, changes, nil
}

func (c *cli) templatesFormCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "form <provider-type> <name>",
		Short: "renders a template's parameter form",
		Long: `
	Renders the form built from a template's parameters. Values given with
	--set are applied in order, including dependent-field resets, and the
	result is validated.
	`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseSets(sets)
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			t, err := fetchTemplate(cmd.Context(), client, args[0], args[1])
			if err != nil {
				return c.check(err)
			}

			form := forms.Synthesize(t.Name, t.Parameters, forms.DefaultCatalog())
			_, changes, err := fillForm(form, parsed)
			if err != nil {
				return err
			}
			for _, ch := range changes {
				fmt.Fprintln(c.out, dimStyle.Render(fmt.Sprintf("%s reset to %q", ch.Field, ch.Value)))
			}
			var errs forms.ValidationErrors
			if len(parsed) > 0 {
				errs = form.Validate()
			}
			writeForm(c.out, t.Name, form.Controls(), errs)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set a field, name=value (repeatable)")
	return cmd
}
