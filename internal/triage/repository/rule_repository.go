package repository

import (
	"fmt"
	"sort"
	"time"

	"mailtriage/internal/triage/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RuleRepository is the versioned, insert-only store of learned rules.
// Superseding a rule inserts a higher version for the same pattern; prior
// versions are never rewritten.
type RuleRepository interface {
	Insert(rule *domain.Rule) error
	// ActiveRules returns the latest version per pattern whose status is
	// active; conflicted heads are excluded until resolved.
	ActiveRules() ([]domain.Rule, error)
	// LatestForPattern returns the newest version for a pattern, or nil.
	LatestForPattern(kind domain.PatternKind, value string) (*domain.Rule, error)
	// LatestActiveForPattern returns the newest active version for a
	// pattern, skipping conflicted heads, or nil.
	LatestActiveForPattern(kind domain.PatternKind, value string) (*domain.Rule, error)
	// Conflicted returns pattern heads awaiting operator resolution.
	Conflicted() ([]domain.Rule, error)
	// All returns every rule version, oldest first.
	All() ([]domain.Rule, error)
	// Revision is a monotonically increasing number that changes whenever
	// a rule is inserted; used to key recommendation caches.
	Revision() (int64, error)
}

// ruleRepository implements RuleRepository on gorm.
type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new instance of ruleRepository.
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) Insert(rule *domain.Rule) error {
	if rule.Pattern == "" || rule.PatternValue == "" {
		return fmt.Errorf("rule requires a pattern")
	}
	if !rule.Action.Valid() {
		return fmt.Errorf("rule requires a valid action")
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Status == "" {
		rule.Status = domain.RuleActive
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	if rule.Version == 0 {
		last, err := r.LatestForPattern(rule.Pattern, rule.PatternValue)
		if err != nil {
			return err
		}
		rule.Version = 1
		if last != nil {
			rule.Version = last.Version + 1
			rule.SupersedesID = last.ID
		}
	}
	return r.db.Create(rule).Error
}

// latestByStatus folds all rule rows into the newest version per pattern
// carrying the given status.
func (r *ruleRepository) latestByStatus(status domain.RuleStatus) ([]domain.Rule, error) {
	var rules []domain.Rule
	if err := r.db.Order("rowid").Find(&rules).Error; err != nil {
		return nil, err
	}

	latest := make(map[string]domain.Rule)
	for _, rule := range rules {
		if rule.Status != status {
			continue
		}
		key := string(rule.Pattern) + "\x00" + rule.PatternValue
		if cur, ok := latest[key]; !ok || rule.Version > cur.Version {
			latest[key] = rule
		}
	}

	out := make([]domain.Rule, 0, len(latest))
	for _, rule := range latest {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ActiveRules returns the newest active version per pattern. A pending
// conflicted version does not displace the active one; only a resolution
// (which inserts a newer active version) does.
func (r *ruleRepository) ActiveRules() ([]domain.Rule, error) {
	return r.latestByStatus(domain.RuleActive)
}

// Conflicted returns patterns whose newest version overall is a conflicted
// one, i.e. conflicts still awaiting operator resolution.
func (r *ruleRepository) Conflicted() ([]domain.Rule, error) {
	conflicted, err := r.latestByStatus(domain.RuleConflicted)
	if err != nil {
		return nil, err
	}
	pending := conflicted[:0]
	for _, rule := range conflicted {
		head, err := r.LatestForPattern(rule.Pattern, rule.PatternValue)
		if err != nil {
			return nil, err
		}
		if head != nil && head.ID == rule.ID {
			pending = append(pending, rule)
		}
	}
	return pending, nil
}

func (r *ruleRepository) LatestForPattern(kind domain.PatternKind, value string) (*domain.Rule, error) {
	var rule domain.Rule
	err := r.db.Where("pattern = ? AND pattern_value = ?", kind, value).
		Order("version DESC").First(&rule).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) LatestActiveForPattern(kind domain.PatternKind, value string) (*domain.Rule, error) {
	var rule domain.Rule
	err := r.db.Where("pattern = ? AND pattern_value = ? AND status = ?",
		kind, value, domain.RuleActive).
		Order("version DESC").First(&rule).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) All() ([]domain.Rule, error) {
	var rules []domain.Rule
	err := r.db.Order("rowid").Find(&rules).Error
	return rules, err
}

func (r *ruleRepository) Revision() (int64, error) {
	var count int64
	err := r.db.Model(&domain.Rule{}).Count(&count).Error
	return count, err
}
