package forward

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/repo"
)

// DBTargets resolves per-workspace targets from the workspace_webhooks table
// and falls back to a global default when a workspace has none.
type DBTargets struct {
	DB       *gorm.DB
	Fallback Target
}

// Resolve implements TargetResolver.
func (d DBTargets) Resolve(ctx context.Context, workspaceID string) (Target, error) {
	if workspaceID != "" && d.DB != nil {
		hook, err := repo.GetWorkspaceWebhook(ctx, d.DB, workspaceID)
		if err != nil {
			return Target{}, err
		}
		if hook != nil && hook.URL != "" {
			return Target{URL: hook.URL, Secret: hook.Secret}, nil
		}
	}
	return d.Fallback, nil
}
