package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"stackctl/internal/api"
	"stackctl/internal/orchestrator"
	"stackctl/internal/state"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", OutputFormatTable:
		return OutputFormatTable, nil
	case OutputFormatJSON, OutputFormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (table, json, yaml)", s)
}

// Printer renders command results.
type Printer struct {
	Out    io.Writer
	Format OutputFormat
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer, format OutputFormat) *Printer {
	return &Printer{Out: out, Format: format}
}

// structured writes v as JSON or YAML. It reports false for table output.
func (p *Printer) structured(v any) (bool, error) {
	switch p.Format {
	case OutputFormatJSON:
		enc := json.NewEncoder(p.Out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputFormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("failed to convert to YAML: %w", err)
		}
		_, err = p.Out.Write(data)
		return true, err
	}
	return false, nil
}

func (p *Printer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.Out)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = text.FgHiCyan.Sprint(c)
	}
	return row
}

// PrintStatus renders a run and its services.
func (p *Printer) PrintStatus(s *api.StatusResponse) error {
	if ok, err := p.structured(s); ok {
		return err
	}

	fmt.Fprintf(p.Out, "%s %s  %s %s  %s %s  %s %s\n",
		text.FgHiBlue.Sprint("Deployment:"), s.Run.Deployment,
		text.FgHiBlue.Sprint("Run:"), s.Run.ID,
		text.FgHiBlue.Sprint("Environment:"), s.Run.Environment,
		text.FgHiBlue.Sprint("State:"), formatState(s.Run.State))
	if s.Run.Error != "" {
		fmt.Fprintf(p.Out, "%s %s\n", text.FgRed.Sprint("Error:"), s.Run.Error)
	}

	if len(s.Services) == 0 {
		fmt.Fprintln(p.Out, text.FgYellow.Sprint("No services recorded"))
		return nil
	}

	t := p.newTable()
	t.AppendHeader(header("#", "SERVICE", "STATE", "ADDRESS", "HANDLE", "CHECKS", "LAST CHECK", "ERROR"))
	for _, svc := range s.Services {
		t.AppendRow(table.Row{
			dash(seqString(svc.StartSeq)),
			svc.Name,
			formatState(svc.State),
			dash(firstNonEmpty(svc.URL, svc.Address)),
			dash(svc.HandleID),
			checks(svc),
			dash(formatTime(svc.LastCheckAt)),
			truncate(svc.LastError, 60),
		})
	}
	t.Render()
	return nil
}

// PlanView is what `stackctl plan` prints.
type PlanView struct {
	Deployment  string              `json:"deployment" yaml:"deployment"`
	Environment string              `json:"environment" yaml:"environment"`
	Order       []string            `json:"order" yaml:"order"`
	Levels      [][]string          `json:"levels" yaml:"levels"`
	Addresses   map[string]string   `json:"addresses" yaml:"addresses"`
	Env         map[string][]EnvRow `json:"env" yaml:"env"`
}

// EnvRow is one resolved variable, secrets redacted.
type EnvRow struct {
	Key    string `json:"key" yaml:"key"`
	Value  string `json:"value" yaml:"value"`
	Secret bool   `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// NewPlanView flattens an orchestrator plan.
func NewPlanView(deployment, environment string, plan *orchestrator.Plan) PlanView {
	v := PlanView{
		Deployment:  deployment,
		Environment: environment,
		Order:       plan.Order,
		Levels:      plan.Levels,
		Addresses:   make(map[string]string, len(plan.Endpoints)),
		Env:         make(map[string][]EnvRow, len(plan.Env)),
	}
	for name, ep := range plan.Endpoints {
		v.Addresses[name] = ep.URL
	}
	for name, env := range plan.Env {
		rows := make([]EnvRow, len(env))
		for i, e := range env {
			rows[i] = EnvRow{Key: e.Key, Value: e.Value, Secret: e.Secret}
		}
		v.Env[name] = rows
	}
	return v
}

// PrintPlan renders the start order, levels and environment of each service.
func (p *Printer) PrintPlan(v PlanView) error {
	if ok, err := p.structured(v); ok {
		return err
	}

	fmt.Fprintf(p.Out, "%s %s  %s %s\n",
		text.FgHiBlue.Sprint("Deployment:"), v.Deployment,
		text.FgHiBlue.Sprint("Environment:"), v.Environment)

	level := make(map[string]int)
	for i, names := range v.Levels {
		for _, n := range names {
			level[n] = i
		}
	}

	t := p.newTable()
	t.AppendHeader(header("#", "SERVICE", "LEVEL", "ADDRESS", "ENV"))
	for i, name := range v.Order {
		var env []string
		for _, e := range v.Env[name] {
			value := e.Value
			if e.Secret {
				value = text.FgHiBlack.Sprint(value)
			}
			env = append(env, e.Key+"="+value)
		}
		t.AppendRow(table.Row{i + 1, name, level[name], v.Addresses[name], dash(strings.Join(env, "\n"))})
		t.AppendSeparator()
	}
	t.Render()
	return nil
}

// PrintRuns lists archived runs.
func (p *Printer) PrintRuns(runs []state.Run) error {
	if ok, err := p.structured(runs); ok {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(p.Out, text.FgYellow.Sprint("No runs found"))
		return nil
	}

	t := p.newTable()
	t.AppendHeader(header("RUN", "DEPLOYMENT", "ENV", "RUNTIME", "STATE", "STARTED", "ENDED", "ERROR"))
	for _, r := range runs {
		ended := ""
		if r.EndedAt != nil {
			ended = formatTime(r.EndedAt)
		}
		t.AppendRow(table.Row{
			r.ID, r.Deployment, r.Environment, r.Runtime,
			formatState(string(r.State)),
			formatTime(&r.StartedAt),
			dash(ended),
			truncate(r.Error, 50),
		})
	}
	t.Render()
	return nil
}

// StatusFromArchive converts archived records into the status API shape.
func StatusFromArchive(run state.Run, recs []state.ServiceRecord) *api.StatusResponse {
	s := &api.StatusResponse{
		Run: api.RunInfo{
			ID:          run.ID,
			Deployment:  run.Deployment,
			Environment: run.Environment,
			Runtime:     run.Runtime,
			State:       string(run.State),
			StartedAt:   run.StartedAt,
			EndedAt:     run.EndedAt,
			Error:       run.Error,
			Addresses:   make(map[string]string),
		},
		Services: make([]api.ServiceInfo, 0, len(recs)),
	}
	for _, rec := range recs {
		info := api.ServiceInfo{
			Name:        rec.Service,
			State:       string(rec.State),
			Address:     rec.Address,
			URL:         rec.URL,
			StartSeq:    rec.StartSeq,
			LastCheckAt: rec.LastCheckAt,
			LastError:   rec.Error,
		}
		if rec.Attempts > 0 {
			info.RetryCount = rec.Attempts - 1
		}
		if rec.Handle != nil {
			info.HandleID = rec.Handle.ID
			started := rec.Handle.StartedAt
			if !started.IsZero() {
				info.StartedAt = &started
			}
		}
		if rec.State == "Healthy" && rec.Address != "" {
			s.Run.Addresses[rec.Service] = rec.Address
		}
		s.Services = append(s.Services, info)
	}
	return s
}

func formatState(state string) string {
	switch state {
	case "Healthy", "Completed":
		return text.FgGreen.Sprint(state)
	case "Starting", "Pending", "Initializing", "Running":
		return text.FgYellow.Sprint(state)
	case "Failed", "RolledBack", "StopFailed":
		return text.FgRed.Sprint(state)
	case "Stopped":
		return text.FgHiBlack.Sprint(state)
	}
	return state
}

func checks(svc api.ServiceInfo) string {
	if svc.LastCheckAt == nil {
		return dash("")
	}
	return strconv.Itoa(svc.RetryCount + 1)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func seqString(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func dash(s string) string {
	if s == "" {
		return text.FgHiBlack.Sprint("-")
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
