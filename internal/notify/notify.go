// Package notify delivers one event per cleanup run to the configured routes.
package notify

import (
	"context"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/dev-tams/cloudsweep/internal/config"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Commands that a route may be limited to. "report" covers both report
// subcommands.
var knownCommands = mapset.NewSet(
	"buckets", "secrets", "tables", "webacls",
	"report", "report compliance", "report findings",
)

// Event describes one run. Leftovers are "kind:name" entries for resources the
// run could not remove.
type Event struct {
	Command   string   `json:"command"`
	Status    string   `json:"status"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Leftovers []string `json:"leftovers,omitempty"`
	Output    string   `json:"output,omitempty"`
	Duration  string   `json:"duration"`
	Error     string   `json:"error,omitempty"`
}

// StatusFor maps a run outcome to an event status.
func StatusFor(failed int, err error) string {
	if failed > 0 || err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// Summary is the one-line headline used as the email subject and the webhook
// text, e.g. "buckets failure: 1 left behind".
func (e Event) Summary() string {
	switch {
	case e.Error != "":
		return fmt.Sprintf("%s %s: %s", e.Command, e.Status, e.Error)
	case len(e.Leftovers) > 0:
		return fmt.Sprintf("%s %s: %d left behind", e.Command, e.Status, len(e.Leftovers))
	case e.Output != "":
		return fmt.Sprintf("%s %s: wrote %s", e.Command, e.Status, e.Output)
	default:
		return fmt.Sprintf("%s %s: %d done, %d skipped", e.Command, e.Status, e.Succeeded, e.Skipped)
	}
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type builder func(config.NotificationDetails) (Notifier, error)

var builders = map[string]builder{
	"webhook": NewWebhook,
	"email":   NewEmail,
}

type route struct {
	kind     string
	statuses mapset.Set[string]
	// commands is empty when the route takes every command.
	commands mapset.Set[string]
	notifier Notifier
}

type Dispatcher struct {
	routes []route
}

func NewDispatcher(cfgs []config.NotificationConfig) (*Dispatcher, error) {
	d := &Dispatcher{}
	for i, n := range cfgs {
		kind := strings.ToLower(strings.TrimSpace(n.Type))
		build, ok := builders[kind]
		if !ok {
			return nil, fmt.Errorf("notifications[%d]: unsupported notification type %q", i, n.Type)
		}
		statuses, err := parseOn(n.On)
		if err != nil {
			return nil, fmt.Errorf("notifications[%d]: %w", i, err)
		}
		commands, err := parseCommands(n.Commands)
		if err != nil {
			return nil, fmt.Errorf("notifications[%d]: %w", i, err)
		}
		nf, err := build(n.Config)
		if err != nil {
			return nil, fmt.Errorf("notifications[%d] %s: %w", i, kind, err)
		}
		d.routes = append(d.routes, route{kind: kind, statuses: statuses, commands: commands, notifier: nf})
	}
	return d, nil
}

// Notify sends event to every route that wants it. One route failing does not
// stop the others.
func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}

	var errs *multierror.Error
	for i, r := range d.routes {
		if !r.wants(event) {
			continue
		}
		if err := r.notifier.Notify(ctx, event); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s route %d: %w", r.kind, i, err))
		}
	}
	return errs.ErrorOrNil()
}

func (r route) wants(event Event) bool {
	if !r.statuses.Contains(event.Status) {
		return false
	}
	if r.commands == nil || r.commands.Cardinality() == 0 {
		return true
	}
	if r.commands.Contains(event.Command) {
		return true
	}
	parent, _, _ := strings.Cut(event.Command, " ")
	return r.commands.Contains(parent)
}

func parseOn(raw []string) (mapset.Set[string], error) {
	statuses := mapset.NewThreadUnsafeSet[string]()
	for _, v := range raw {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case StatusSuccess:
			statuses.Add(StatusSuccess)
		case StatusFailure:
			statuses.Add(StatusFailure)
		case "both":
			statuses.Append(StatusSuccess, StatusFailure)
		default:
			return nil, fmt.Errorf("on contains unsupported value %q", v)
		}
	}
	if statuses.Cardinality() == 0 {
		return nil, fmt.Errorf("on must include success, failure, or both")
	}
	return statuses, nil
}

func parseCommands(raw []string) (mapset.Set[string], error) {
	commands := mapset.NewThreadUnsafeSet[string]()
	for _, v := range raw {
		c := strings.Join(strings.Fields(strings.ToLower(v)), " ")
		if !knownCommands.Contains(c) {
			return nil, fmt.Errorf("commands contains unknown command %q", v)
		}
		commands.Add(c)
	}
	return commands, nil
}
