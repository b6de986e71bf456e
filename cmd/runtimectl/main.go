// ABOUTME: Operator CLI for the agent-runtime supervisor HTTP API
// ABOUTME: Lists installations, drives session lifecycle, sends events, shows usage and audit

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shreyanshjain7174/agent-runtime/internal/store"
)

var (
	serverURL  string
	businessID string
	actorID    string
)

func main() {
	root := &cobra.Command{
		Use:           "runtimectl",
		Short:         "Control a running agent-runtime supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("AGENT_RUNTIME_URL", "http://localhost:8080"), "supervisor base URL")
	root.PersistentFlags().StringVar(&businessID, "business", os.Getenv("AGENT_RUNTIME_BUSINESS"), "tenant business ID (required)")
	root.PersistentFlags().StringVar(&actorID, "actor", envOr("AGENT_RUNTIME_ACTOR", "runtimectl"), "actor recorded in the audit log")

	root.AddCommand(
		newAgentsCmd(),
		newLifecycleCmd("start", "Start a session for an installation"),
		newLifecycleCmd("stop", "Stop the active session of an installation"),
		newLifecycleCmd("pause", "Pause the running session of an installation"),
		newLifecycleCmd("resume", "Resume the paused session of an installation"),
		newEventsCmd(),
		newSessionsCmd(),
		newUsageCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage installed agents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed agents for the tenant",
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Installations []*store.Installation `json:"installations"`
			}
			if err := apiGet("/api/v1/agents", &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAGENT\tNAME\tSTATUS\tPERMISSIONS\tCREATED")
			for _, inst := range resp.Installations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					inst.ID, inst.AgentID, inst.InstanceName, statusColor(string(inst.Status)),
					strings.Join(inst.Permissions, ","), inst.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	})

	var (
		installName  string
		installPerms []string
		installConf  string
	)
	install := &cobra.Command{
		Use:   "install <agent-id>",
		Short: "Install an agent for the tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]any{
				"agent_id":      args[0],
				"instance_name": installName,
				"permissions":   installPerms,
			}
			if installConf != "" {
				body["config"] = json.RawMessage(installConf)
			}

			var inst store.Installation
			if err := apiPost("/api/v1/agents/install", body, &inst); err != nil {
				return err
			}
			color.Green("Installed %s as %s (status: %s)", inst.AgentID, inst.ID, inst.Status)
			return nil
		},
	}
	install.Flags().StringVar(&installName, "name", "", "instance name")
	install.Flags().StringSliceVar(&installPerms, "grant", nil, "permissions to grant (repeatable)")
	install.Flags().StringVar(&installConf, "config", "", "installation config as raw JSON")
	cmd.AddCommand(install)

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall <installation-id>",
		Short: "Uninstall an agent installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := apiDelete("/api/v1/agents/" + args[0]); err != nil {
				return err
			}
			color.Yellow("Uninstalling %s", args[0])
			return nil
		},
	})

	return cmd
}

func newLifecycleCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <installation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var resp map[string]any
			if err := apiPost(fmt.Sprintf("/api/v1/agents/%s/%s", args[0], verb), nil, &resp); err != nil {
				return err
			}
			color.Green("%s: ok", verb)
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Send and inspect agent events",
	}

	var correlationID string
	send := &cobra.Command{
		Use:   "send <installation-id> <event-type> [payload-json]",
		Short: "Queue an event for delivery to a running agent",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]any{"event_type": args[1]}
			if len(args) == 3 {
				body["payload"] = json.RawMessage(args[2])
			}
			if correlationID != "" {
				body["correlation_id"] = correlationID
			}

			var event store.AgentEvent
			if err := apiPost("/api/v1/agents/"+args[0]+"/events", body, &event); err != nil {
				return err
			}
			color.Green("Queued event %s (%s)", event.ID, event.Status)
			return nil
		},
	}
	send.Flags().StringVar(&correlationID, "correlation-id", "", "correlation ID to attach")
	cmd.AddCommand(send)

	var listLimit int
	list := &cobra.Command{
		Use:   "list <installation-id>",
		Short: "List recent events for an installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var resp struct {
				Events []*store.AgentEvent `json:"events"`
			}
			path := fmt.Sprintf("/api/v1/agents/%s/events?limit=%d", args[0], listLimit)
			if err := apiGet(path, &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tDIR\tSTATUS\tRETRIES\tMS\tCREATED")
			for _, e := range resp.Events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					e.ID, e.EventType, e.Direction, statusColor(string(e.Status)),
					e.RetryCount, e.ProcessingTimeMs, e.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 100, "max events to return")
	cmd.AddCommand(list)

	return cmd
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active runtime sessions for the tenant",
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Sessions []*store.RuntimeSession `json:"sessions"`
			}
			if err := apiGet("/api/v1/sessions", &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tINSTALLATION\tSTATUS\tSTARTED\tLAST HEARTBEAT\tEVENTS")
			for _, s := range resp.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					s.ID, s.InstallationID, statusColor(string(s.Status)),
					s.StartedAt.Local().Format(time.DateTime),
					s.LastHeartbeat.Local().Format(time.DateTime),
					s.EventsProcessed)
			}
			return w.Flush()
		},
	}
}

func newUsageCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "usage <installation-id>",
		Short: "Show per-day resource usage for an installation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var resp struct {
				Usage []*store.ResourceUsagePeriod `json:"usage"`
			}
			path := fmt.Sprintf("/api/v1/agents/%s/usage?days=%d", args[0], days)
			if err := apiGet(path, &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tCPU SEC\tMEM MB-H\tAPI CALLS\tEVENTS\tIN BYTES\tOUT BYTES")
			for _, p := range resp.Usage {
				fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%d\t%d\t%d\t%d\n",
					p.PeriodDay, p.CPUSecondsUsed, p.MemoryMBHours,
					p.APICallsMade, p.EventsProcessed, p.DataInBytes, p.DataOutBytes)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "how many days back to include")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the tenant's audit log",
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Entries []store.AuditEntry `json:"entries"`
			}
			if err := apiGet(fmt.Sprintf("/api/v1/audit?limit=%d", limit), &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTOR\tACTION\tTARGET\tOUTCOME")
			for _, e := range resp.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%s\n",
					e.Timestamp.Local().Format(time.DateTime), e.Actor, e.Action,
					e.TargetType, e.TargetID, statusColor(string(e.Outcome)))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max entries to return")
	return cmd
}

// statusColor renders lifecycle and outcome strings with a consistent palette.
func statusColor(s string) string {
	switch s {
	case "active", "running", "completed", "success":
		return color.GreenString(s)
	case "installing", "starting", "pending", "processing", "retry", "paused", "uninstalling", "stopping":
		return color.YellowString(s)
	case "error", "crashed", "failed", "failure", "denied":
		return color.RedString(s)
	default:
		return s
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func apiGet(path string, out any) error {
	return apiDo(http.MethodGet, path, nil, out)
}

func apiPost(path string, body, out any) error {
	return apiDo(http.MethodPost, path, body, out)
}

func apiDelete(path string) error {
	return apiDo(http.MethodDelete, path, nil, nil)
}

func apiDo(method, path string, body, out any) error {
	if businessID == "" {
		return fmt.Errorf("--business (or AGENT_RUNTIME_BUSINESS) is required")
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("X-Business-ID", businessID)
	req.Header.Set("X-Actor-ID", actorID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
