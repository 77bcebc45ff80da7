package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models regcycle.yml. One config is stored per report in the DB.
type Config struct {
	Report struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"report" json:"report"`
	Roles map[string]Role `yaml:"roles" json:"roles"`
	Alerts struct {
		WarningDays    int `yaml:"warning_days" json:"warning_days"`
		CriticalDays   int `yaml:"critical_days" json:"critical_days"`
		EscalationDays int `yaml:"escalation_days" json:"escalation_days"`
	} `yaml:"alerts" json:"alerts"`
	Checklists map[string][]ChecklistTemplateItem `yaml:"checklists" json:"checklists"`
	Webhooks   []WebhookConfig                    `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type Role struct {
	Description string `yaml:"description" json:"description"`
}

// ChecklistTemplateItem is one templated checklist entry; OffsetDays counts
// backward from the computed submission deadline.
type ChecklistTemplateItem struct {
	Description string `yaml:"description" json:"description"`
	Role        string `yaml:"role" json:"role"`
	OffsetDays  int    `yaml:"offset_days" json:"offset_days"`
}

// WebhookConfig describes one audit-feed subscriber.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Actions        []string `yaml:"actions,omitempty" json:"actions,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

var frequencies = []string{"daily", "weekly", "monthly", "quarterly", "annual"}

// ValidFrequency reports whether s names a known submission frequency.
func ValidFrequency(s string) bool {
	for _, f := range frequencies {
		if f == s {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Report.ID == "" {
		return fmt.Errorf("config.report.id is required")
	}
	if c.Alerts.WarningDays <= 0 || c.Alerts.CriticalDays <= 0 || c.Alerts.EscalationDays <= 0 {
		return fmt.Errorf("config.alerts thresholds must be positive")
	}
	if c.Alerts.EscalationDays > c.Alerts.CriticalDays || c.Alerts.CriticalDays > c.Alerts.WarningDays {
		return fmt.Errorf("config.alerts thresholds must satisfy escalation <= critical <= warning")
	}
	if len(c.Checklists) == 0 {
		return fmt.Errorf("config.checklists is required")
	}
	for freq, items := range c.Checklists {
		if !ValidFrequency(freq) {
			return fmt.Errorf("config.checklists has unknown frequency %s", freq)
		}
		for i, item := range items {
			if item.Description == "" {
				return fmt.Errorf("checklist %s item %d has empty description", freq, i)
			}
			if item.Role == "" {
				return fmt.Errorf("checklist %s item %d has empty role", freq, i)
			}
			if item.OffsetDays < 0 {
				return fmt.Errorf("checklist %s item %d has negative offset", freq, i)
			}
			if len(c.Roles) > 0 {
				if _, ok := c.Roles[item.Role]; !ok {
					return fmt.Errorf("checklist %s item %d references unknown role %s", freq, i, item.Role)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d] has empty url", i)
		}
	}
	return nil
}

// HasRole reports whether role is declared in the role catalog. An empty
// catalog accepts any role.
func (c *Config) HasRole(role string) bool {
	if len(c.Roles) == 0 {
		return true
	}
	_, ok := c.Roles[role]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "regcycle.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with rc report config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a report.
func Default(reportID string) *Config {
	var cfg Config
	cfg.Report.ID = reportID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, reportID))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(reportID string) string {
	return fmt.Sprintf(defaultTemplate, reportID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `report:
  id: %s

roles:
  data_steward:
    description: "Owns source data completeness and quality"
  controller:
    description: "Reviews validation and reconciliation results"
  report_owner:
    description: "Accountable for report content and submission"
  cfo:
    description: "Signs the final attestation"

alerts:
  warning_days: 7
  critical_days: 3
  escalation_days: 1

checklists:
  daily:
    - description: "Confirm source feeds loaded"
      role: data_steward
      offset_days: 0
    - description: "Submit report"
      role: report_owner
      offset_days: 0
  weekly:
    - description: "Confirm source feeds loaded"
      role: data_steward
      offset_days: 2
    - description: "Review exceptions"
      role: controller
      offset_days: 1
    - description: "Submit report"
      role: report_owner
      offset_days: 0
  monthly:
    - description: "Close source systems"
      role: data_steward
      offset_days: 5
    - description: "Run quality checks"
      role: controller
      offset_days: 3
    - description: "Management review"
      role: report_owner
      offset_days: 2
    - description: "Submit report"
      role: report_owner
      offset_days: 0
  quarterly:
    - description: "Close source systems"
      role: data_steward
      offset_days: 10
    - description: "Run quality checks"
      role: controller
      offset_days: 7
    - description: "Reconcile to general ledger"
      role: controller
      offset_days: 5
    - description: "CFO attestation"
      role: cfo
      offset_days: 3
    - description: "Submit report"
      role: report_owner
      offset_days: 0
  annual:
    - description: "Close source systems"
      role: data_steward
      offset_days: 20
    - description: "External audit review"
      role: controller
      offset_days: 15
    - description: "Reconcile to general ledger"
      role: controller
      offset_days: 10
    - description: "CFO attestation"
      role: cfo
      offset_days: 5
    - description: "Submit report"
      role: report_owner
      offset_days: 0
`
