package governor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

const railwayAPIURL = "https://backboard.railway.com/graphql/v2"

// RailwayRestarter walks the restart chain: control-plane API, provider CLI,
// webhook, then a gated self-exit so the host supervisor relaunches us.
type RailwayRestarter struct {
	Token      string
	ProjectID  string
	ServiceID  string
	WebhookURL string

	AllowEmergencyExit bool
	EmergencyDelay     time.Duration

	APIURL         string
	Client         *http.Client
	CommandTimeout time.Duration

	// exitFn and runCmd are swapped in tests.
	exitFn func(code int)
	runCmd func(ctx context.Context, name string, args ...string) error
}

// NewRailwayRestarter constructs the chain with production collaborators.
func NewRailwayRestarter(token, projectID, serviceID, webhookURL string, allowExit bool, emergencyDelay, cmdTimeout, reqTimeout time.Duration, exitFn func(int)) *RailwayRestarter {
	return &RailwayRestarter{
		Token:              token,
		ProjectID:          projectID,
		ServiceID:          serviceID,
		WebhookURL:         webhookURL,
		AllowEmergencyExit: allowExit,
		EmergencyDelay:     emergencyDelay,
		APIURL:             railwayAPIURL,
		Client:             &http.Client{Timeout: reqTimeout},
		CommandTimeout:     cmdTimeout,
		exitFn:             exitFn,
		runCmd: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Restart tries each mechanism in order and returns the name of the first
// that succeeds.
func (r *RailwayRestarter) Restart(ctx context.Context) (string, error) {
	var errs []error

	if r.Token != "" {
		err := r.restartViaAPI(ctx)
		if err == nil {
			return "api", nil
		}
		slog.Warn("control-plane restart failed", slog.Any("error", err))
		errs = append(errs, err)
	}

	cliErr := r.restartViaCLI(ctx)
	if cliErr == nil {
		return "cli", nil
	}
	slog.Warn("cli restart failed", slog.Any("error", cliErr))
	errs = append(errs, cliErr)

	if r.WebhookURL != "" {
		err := r.restartViaWebhook(ctx)
		if err == nil {
			return "webhook", nil
		}
		slog.Warn("webhook restart failed", slog.Any("error", err))
		errs = append(errs, err)
	}

	if r.AllowEmergencyExit {
		r.emergencyExit()
		return "exit", nil
	}
	errs = append(errs, errors.New("emergency exit disabled"))
	return "", fmt.Errorf("op=governor.restart: %w", errors.Join(errs...))
}

func (r *RailwayRestarter) restartViaAPI(ctx context.Context) error {
	serviceID := r.ServiceID
	if serviceID == "" {
		id, err := r.discoverServiceID(ctx)
		if err != nil {
			return err
		}
		serviceID = id
		r.ServiceID = id
	}

	mutation := `mutation serviceRedeploy($serviceId: String!) {
		serviceRedeploy(serviceId: $serviceId) { id }
	}`
	resp, err := r.graphql(ctx, mutation, map[string]any{"serviceId": serviceID})
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("op=governor.api_restart: graphql: %s", resp.Errors[0].Message)
	}
	return nil
}

// discoverServiceID asks the control plane for the project's services and
// picks the one that looks like the main app, falling back to the first.
func (r *RailwayRestarter) discoverServiceID(ctx context.Context) (string, error) {
	query := `query project($projectId: String!) {
		project(id: $projectId) {
			services { edges { node { id name } } }
		}
	}`
	resp, err := r.graphql(ctx, query, map[string]any{"projectId": r.ProjectID})
	if err != nil {
		return "", err
	}
	if len(resp.Errors) > 0 {
		return "", fmt.Errorf("op=governor.discover_service: graphql: %s", resp.Errors[0].Message)
	}

	edges := resp.Data.Project.Services.Edges
	if len(edges) == 0 {
		return "", errors.New("op=governor.discover_service: no services in project")
	}
	for _, e := range edges {
		name := strings.ToLower(e.Node.Name)
		for _, kw := range []string{"app", "web", "main"} {
			if strings.Contains(name, kw) {
				return e.Node.ID, nil
			}
		}
	}
	return edges[0].Node.ID, nil
}

type graphqlResponse struct {
	Data struct {
		Project struct {
			Services struct {
				Edges []struct {
					Node struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"services"`
		} `json:"project"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (r *RailwayRestarter) graphql(ctx context.Context, query string, vars map[string]any) (*graphqlResponse, error) {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return nil, fmt.Errorf("op=governor.graphql: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("op=governor.graphql: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=governor.graphql: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("op=governor.graphql: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("op=governor.graphql: status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}
	var out graphqlResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("op=governor.graphql: decode: %w", err)
	}
	return &out, nil
}

func (r *RailwayRestarter) restartViaCLI(ctx context.Context) error {
	timeout := r.CommandTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.runCmd(cctx, "railway", "redeploy", "-y"); err != nil {
		return fmt.Errorf("op=governor.cli_restart: %w", err)
	}
	return nil
}

func (r *RailwayRestarter) restartViaWebhook(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.WebhookURL, nil)
	if err != nil {
		return fmt.Errorf("op=governor.webhook_restart: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("op=governor.webhook_restart: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=governor.webhook_restart: status %d", resp.StatusCode)
	}
	return nil
}

// emergencyExit terminates the process with a non-zero status after a short
// delay so in-flight log writes land before the supervisor relaunches us.
func (r *RailwayRestarter) emergencyExit() {
	delay := r.EmergencyDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	slog.Error("no restart mechanism available, exiting for supervisor relaunch",
		slog.Duration("delay", delay))
	go func() {
		time.Sleep(delay)
		r.exitFn(1)
	}()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
