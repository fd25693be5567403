package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repo) CreateAutomationRule(ctx context.Context, rule *AutomationRule) error {
	rule.Version = 1
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *Repo) GetAutomationRule(ctx context.Context, id uint64) (*AutomationRule, error) {
	var rule AutomationRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (r *Repo) ListAutomationRules(ctx context.Context, homeID uint64) ([]AutomationRule, error) {
	var rows []AutomationRule
	err := r.db.WithContext(ctx).Where("home_id = ?", homeID).Order("id").Find(&rows).Error
	return rows, err
}

// UpdateAutomationRule bumps version on every edit (§4.H step 5).
func (r *Repo) UpdateAutomationRule(ctx context.Context, rule *AutomationRule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AutomationRule{}).Where("id = ?", rule.ID).
			Updates(map[string]any{
				"name":             rule.Name,
				"enabled":          rule.Enabled,
				"trigger_type":     rule.TriggerType,
				"trigger":          rule.Trigger,
				"actions":          rule.Actions,
				"execution_policy": rule.ExecutionPolicy,
				"version":          gorm.Expr("version + 1"),
				"updated_at":       time.Now().UTC(),
			})
		return res.Error
	})
}

func (r *Repo) SetAutomationRuleEnabled(ctx context.Context, id uint64, enabled bool) error {
	return r.db.WithContext(ctx).Model(&AutomationRule{}).Where("id = ?", id).
		Updates(map[string]any{"enabled": enabled, "version": gorm.Expr("version + 1"), "updated_at": time.Now().UTC()}).Error
}

func (r *Repo) DeleteAutomationRule(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&AutomationRule{}, "id = ?", id).Error
}

// HomeDesiredVersion is the max version across all of a home's rules,
// enabled or not, the §4.H step 1 computation.
func (r *Repo) HomeDesiredVersion(ctx context.Context, homeID uint64) (int64, error) {
	var max int64
	err := r.db.WithContext(ctx).Model(&AutomationRule{}).
		Where("home_id = ?", homeID).
		Select("COALESCE(MAX(version), 0)").Scan(&max).Error
	return max, err
}

func (r *Repo) ListHubsForHome(ctx context.Context, homeID uint64) ([]Hub, error) {
	var rows []Hub
	err := r.db.WithContext(ctx).Where("home_id = ?", homeID).Find(&rows).Error
	return rows, err
}

func (r *Repo) GetAutomationDeployment(ctx context.Context, hubID string, homeID uint64) (*AutomationDeployment, error) {
	var d AutomationDeployment
	err := r.db.WithContext(ctx).First(&d, "hub_id = ? AND home_id = ?", hubID, homeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &AutomationDeployment{HubID: hubID, HomeID: homeID, Status: DeploymentSyncing}, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repo) UpsertAutomationDeployment(ctx context.Context, d *AutomationDeployment) error {
	d.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hub_id"}, {Name: "home_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"desired_version", "applied_version", "status", "last_msg", "updated_at"}),
	}).Create(d).Error
}

func (r *Repo) ListAutomationDeployments(ctx context.Context, hubID string) ([]AutomationDeployment, error) {
	var rows []AutomationDeployment
	err := r.db.WithContext(ctx).Where("hub_id = ?", hubID).Find(&rows).Error
	return rows, err
}
