package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/relay"
	"github.com/multicloud-portal/portal/internal/upstream"
)

type logFilterFlags struct {
	level, phase, search string
}

func (f logFilterFlags) filter() relay.Filter {
	return relay.Filter{Level: f.level, Phase: f.phase, Search: f.search}
}

func (c *cli) logsCmd() *cobra.Command {
	var (
		flags  logFilterFlags
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs <deployment-id>",
		Short: "prints a deployment's logs",
		Long: `
	Prints the logs the deployment has produced so far. With --follow the
	deployment is followed until it completes or fails, with status and
	progress changes shown as they happen.
	`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return c.followLogs(cmd.Context(), args[0], flags)
			}
			return c.dumpLogs(cmd.Context(), args[0], flags)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow until the deployment finishes")
	cmd.Flags().StringVar(&flags.level, "level", "", "only this level (DEBUG, INFO, WARNING, ERROR)")
	cmd.Flags().StringVar(&flags.phase, "phase", "", "only this phase (validating, planning, applying, ...)")
	cmd.Flags().StringVar(&flags.search, "search", "", "only lines containing this text")
	return cmd
}

// dumpLogs reads the event stream to its end and prints the matching lines.
func (c *cli) dumpLogs(ctx context.Context, id string, flags logFilterFlags) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	stream, err := client.OpenStream(ctx, id)
	if err != nil {
		return c.check(err)
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	filter := flags.filter()
	for {
		ev, err := stream.Next()
		if errors.Is(err, upstream.ErrStreamClosed) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Type == upstream.EventLog {
			entry := ev.LogEntry(id, time.Now())
			if filter.Match(entry) {
				fmt.Fprintln(c.out, formatLogLine(entry))
			}
		}
		if ev.Terminal() {
			return nil
		}
	}
}

// followLogs runs a relay for the deployment and prints its events until
// it closes.
func (c *cli) followLogs(ctx context.Context, id string, flags logFilterFlags) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	broker := relay.NewBroker(c.cfg.Relay.SubscriberBuffer, logger)
	sub := broker.Subscribe(id)
	defer broker.Unsubscribe(sub)

	r := relay.New(id, client, relay.Config{
		StatusInterval:  c.cfg.Relay.StatusInterval,
		MaxPollAttempts: c.cfg.Relay.MaxPollAttempts,
	}, broker.Publish, logger)
	r.Start(ctx)
	defer r.Stop()

	filter := flags.filter()
	var failure error
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.Ch:
			switch ev.Kind {
			case relay.EventLog:
				if ev.Log != nil && filter.Match(*ev.Log) {
					fmt.Fprintln(c.out, formatLogLine(*ev.Log))
				}
			case relay.EventStatus:
				fmt.Fprintf(c.out, "%s %s\n", dimStyle.Render("status"), renderStatus(ev.Status))
			case relay.EventProgress:
				if ev.Progress != nil {
					fmt.Fprintf(c.out, "%s %d%% %s\n", dimStyle.Render("progress"), *ev.Progress, ev.Phase)
				}
			case relay.EventComplete:
				fmt.Fprintln(c.out, titleStyle.Render("Deployment completed"))
				writeOutputs(c.out, ev.Outputs)
			case relay.EventError:
				if ev.SessionExpired {
					failure = c.check(&upstream.APIError{StatusCode: 401})
				} else {
					fmt.Fprintln(c.out, errorStyle.Render(ev.Message))
					if ev.Status == models.DeploymentStatusFailed {
						failure = errors.New("deployment failed")
					}
				}
			case relay.EventTimeout:
				fmt.Fprintln(c.out, errorStyle.Render(ev.Message))
			case relay.EventNavigate:
				fmt.Fprintf(c.out, "Details: deployctl deployments get %s\n", id)
			case relay.EventClosed:
				return failure
			}
		}
	}
}

func writeOutputs(w io.Writer, outputs map[string]any) {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %v\n", k, outputs[k])
	}
}
