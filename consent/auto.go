package consent

import (
	"context"

	"github.com/b0bbywan/go-portal-backend/logger"
)

// AutoPrompter grants or declines without user interaction, from a static
// policy: an app-id allowlist and a configured set of monitor connectors.
// Meant for headless setups and kiosks where a dialog cannot be shown.
type AutoPrompter struct {
	AllowedApps []string
	// Connectors granted for monitor shares. An empty list grants a single
	// empty connector, which the compositor resolves to the primary monitor.
	Sources []string
}

func NewAutoPrompter(allowedApps, sources []string) *AutoPrompter {
	return &AutoPrompter{AllowedApps: allowedApps, Sources: sources}
}

// Prompt applies the static policy. An empty allowlist admits every app.
func (p *AutoPrompter) Prompt(ctx context.Context, q Query) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Declined(2), nil
	}

	if !p.allowed(q.AppID) {
		logger.Info("[consent] declining %s: not in allowlist", q.AppID)
		return Declined(1), nil
	}

	res := Result{
		Response: 0,
		Devices:  q.DeviceTypes,
		Persist:  q.PersistMode != PersistNone,
	}

	if q.SourceTypes&uint32(SourceMonitor) != 0 {
		connectors := p.Sources
		if len(connectors) == 0 {
			connectors = []string{""}
		}
		if !q.Multiple {
			connectors = connectors[:1]
		}
		for _, c := range connectors {
			res.Sources = append(res.Sources, Source{Kind: SourceMonitor, Connector: c})
		}
	}

	logger.Debug("[consent] auto-accepted %s: %d source(s), devices %#x",
		q.AppID, len(res.Sources), res.Devices)
	return res, nil
}

func (p *AutoPrompter) allowed(appID string) bool {
	if len(p.AllowedApps) == 0 {
		return true
	}
	for _, app := range p.AllowedApps {
		if app == appID {
			return true
		}
	}
	return false
}
