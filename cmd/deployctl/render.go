package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/models"
)

var (
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	levelStyles = map[models.LogLevel]lipgloss.Style{
		models.LogLevelDebug:   dimStyle,
		models.LogLevelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
		models.LogLevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.LogLevelError:   errorStyle,
	}

	statusStyles = map[models.DeploymentStatus]lipgloss.Style{
		models.DeploymentStatusPending:   dimStyle,
		models.DeploymentStatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.DeploymentStatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.DeploymentStatusFailed:    errorStyle,
	}
)

func roleOrDefault(r models.Role) models.Role {
	if r.IsValid() {
		return r
	}
	return models.RoleViewer
}

func renderStatus(s models.DeploymentStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// formatLogLine renders "15:04:05 LEVEL   [phase] message".
func formatLogLine(e models.LogEntry) string {
	level := fmt.Sprintf("%-7s", e.Level)
	if style, ok := levelStyles[e.Level]; ok {
		level = style.Render(level)
	}
	var b strings.Builder
	b.WriteString(dimStyle.Render(e.Timestamp.Local().Format("15:04:05")))
	b.WriteString(" ")
	b.WriteString(level)
	b.WriteString(" ")
	if e.Phase != "" {
		b.WriteString(dimStyle.Render("[" + string(e.Phase) + "]"))
		b.WriteString(" ")
	}
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, e.Details[k])
		}
		b.WriteString(" ")
		b.WriteString(dimStyle.Render(strings.Join(parts, " ")))
	}
	return b.String()
}

func relative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}

func writeDeployments(w io.Writer, deployments []models.Deployment) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTEMPLATE\tPROVIDER\tRESOURCE GROUP\tSTATUS\tCREATED")
	for _, d := range deployments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.TemplateName, d.ProviderType, d.ResourceGroup, d.Status, relative(d.CreatedAt))
	}
	tw.Flush()
}

func writeDeployment(w io.Writer, d *models.Deployment, task *models.TaskStatus, now time.Time) {
	fmt.Fprintln(w, titleStyle.Render(d.ID))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Template\t%s\n", d.TemplateName)
	fmt.Fprintf(tw, "Provider\t%s\n", d.ProviderType)
	fmt.Fprintf(tw, "Resource group\t%s\n", d.ResourceGroup)
	if d.Location != "" {
		fmt.Fprintf(tw, "Location\t%s\n", d.Location)
	}
	fmt.Fprintf(tw, "Status\t%s\n", renderStatus(d.Status))
	fmt.Fprintf(tw, "Created\t%s\n", relative(d.CreatedAt))
	if dur, ok := d.Duration(now); ok {
		fmt.Fprintf(tw, "Duration\t%s\n", dur.Round(time.Second))
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(tw, "Tags\t%s\n", strings.Join(d.Tags, ", "))
	}
	if task != nil {
		fmt.Fprintf(tw, "Task\t%s %s (%d%%)\n", task.State, task.Phase, task.Progress)
	}
	if d.ErrorMessage != "" {
		fmt.Fprintf(tw, "Error\t%s\n", errorStyle.Render(d.ErrorMessage))
	}
	tw.Flush()

	if len(d.Outputs) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Outputs"))
		writeOutputs(w, d.Outputs)
	}
}

func writeForm(w io.Writer, title string, controls []forms.Control, errs forms.ValidationErrors) {
	fmt.Fprintln(w, titleStyle.Render(title))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tWIDGET\tVALUE\tOPTIONS")
	for _, ctl := range controls {
		name := ctl.Name
		if ctl.Required {
			name += " *"
		}
		value := ctl.Value
		if ctl.Widget == forms.WidgetPassword && value != "" {
			value = "********"
		}
		if ctl.Widget == forms.WidgetCheckbox {
			value = fmt.Sprint(ctl.Checked)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, ctl.Widget, value, strings.Join(ctl.Options, "|"))
	}
	tw.Flush()
	for _, e := range errs {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("%s: %s", e.Field, e.Message)))
	}
}
