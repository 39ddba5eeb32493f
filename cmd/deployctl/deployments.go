package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/schedule"
)

const clearScreen = "\033[H\033[2J"

func (c *cli) deploymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployments",
		Aliases: []string{"deploys"},
		Short:   "lists and inspects deployments",
	}
	cmd.AddCommand(c.deploymentsListCmd(), c.deploymentsGetCmd(), c.deploymentsDeleteCmd())
	return cmd
}

// watch calls render now and then every interval until ctx ends or render
// returns false.
func watch(ctx context.Context, interval time.Duration, render func(context.Context) bool) {
	if !render(ctx) {
		return
	}
	task := schedule.Every(ctx, interval, render)
	<-task.Done()
}

func (c *cli) deploymentsListCmd() *cobra.Command {
	var (
		filter models.DeploymentFilter
		watchF bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "lists deployments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			var failure error
			render := func(ctx context.Context) bool {
				deployments, err := client.ListDeployments(ctx, filter)
				if err != nil {
					if ctx.Err() == nil {
						failure = c.check(err)
					}
					return false
				}
				if watchF {
					fmt.Fprint(c.out, clearScreen)
					fmt.Fprintln(c.out, dimStyle.Render(fmt.Sprintf("every %s, updated %s", c.cfg.Refresh.History, time.Now().Format("15:04:05"))))
				}
				writeDeployments(c.out, deployments)
				return watchF
			}
			watch(cmd.Context(), c.cfg.Refresh.History, render)
			return failure
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.Status, "status", "", "only deployments with this status")
	f.StringVar(&filter.ProviderType, "provider", "", "only deployments of this provider type")
	f.StringVar(&filter.Tag, "tag", "", "only deployments carrying this tag")
	f.IntVar(&filter.Limit, "limit", 0, "at most this many deployments")
	f.BoolVarP(&watchF, "watch", "w", false, "refresh the list periodically")
	return cmd
}

func (c *cli) deploymentsGetCmd() *cobra.Command {
	var watchF bool
	cmd := &cobra.Command{
		Use:   "get <deployment-id>",
		Short: "shows a deployment",
		Long: `
	Shows a deployment. With --watch it is refreshed until it completes or
	fails.
	`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			var failure error
			render := func(ctx context.Context) bool {
				d, err := client.GetDeployment(ctx, args[0])
				if err != nil {
					if ctx.Err() == nil {
						failure = c.check(err)
					}
					return false
				}
				var task *models.TaskStatus
				if d.TaskID != "" && !d.Status.IsTerminal() {
					// best-effort
					task, _ = client.GetTaskStatus(ctx, d.TaskID)
				}
				if watchF {
					fmt.Fprint(c.out, clearScreen)
				}
				writeDeployment(c.out, d, task, time.Now())
				return watchF && !d.Status.IsTerminal()
			}
			watch(cmd.Context(), c.cfg.Refresh.Detail, render)
			return failure
		},
	}
	cmd.Flags().BoolVarP(&watchF, "watch", "w", false, "refresh until the deployment finishes")
	return cmd
}

func (c *cli) deploymentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <deployment-id>",
		Short: "deletes a deployment record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			if err := client.DeleteDeployment(cmd.Context(), args[0]); err != nil {
				return c.check(err)
			}
			fmt.Fprintf(c.out, "Deployment %s deleted\n", args[0])
			return nil
		},
	}
}
