package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"auditline/internal/domain"
)

// Config models auditline.yml.
type Config struct {
	Templates []TemplateConfig `yaml:"templates" json:"templates"`
	Execution struct {
		PersistCursor bool `yaml:"persist_cursor" json:"persist_cursor"`
	} `yaml:"execution" json:"execution"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type TemplateConfig struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Category    string           `yaml:"category" json:"category"`
	Description string           `yaml:"description" json:"description,omitempty"`
	Questions   []QuestionConfig `yaml:"questions" json:"questions"`
}

type QuestionConfig struct {
	Text     string `yaml:"text" json:"text"`
	Severity string `yaml:"severity" json:"severity"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description,omitempty"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Permissions understood by the API.
const (
	PermTemplateRead      = "template.read"
	PermAuditCreate       = "audit.create"
	PermAuditRead         = "audit.read"
	PermChecklistStart    = "checklist.start"
	PermChecklistRead     = "checklist.read"
	PermChecklistAnswer   = "checklist.answer"
	PermChecklistComplete = "checklist.complete"
	PermChecklistDelete   = "checklist.delete"
	PermEventsRead        = "events.read"
)

var KnownPermissions = []string{
	PermTemplateRead,
	PermAuditCreate,
	PermAuditRead,
	PermChecklistStart,
	PermChecklistRead,
	PermChecklistAnswer,
	PermChecklistComplete,
	PermChecklistDelete,
	PermEventsRead,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with al config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Templates) == 0 {
		return fmt.Errorf("config.templates must define at least one template")
	}
	seen := map[string]struct{}{}
	for i, t := range c.Templates {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("config.templates[%d].id is required", i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("template %s defined twice", t.ID)
		}
		seen[t.ID] = struct{}{}
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("template %s: name is required", t.ID)
		}
		if !domain.ValidCategory(t.Category) {
			return fmt.Errorf("template %s: invalid category %q", t.ID, t.Category)
		}
		if len(t.Questions) == 0 {
			return fmt.Errorf("template %s: at least one question is required", t.ID)
		}
		for j, q := range t.Questions {
			if strings.TrimSpace(q.Text) == "" {
				return fmt.Errorf("template %s: question %d has empty text", t.ID, j+1)
			}
			if _, err := domain.ParseSeverity(q.Severity); err != nil {
				return fmt.Errorf("template %s: question %d: %w", t.ID, j+1, err)
			}
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if !knownPermission(perm) {
					return fmt.Errorf("role %s has unknown permission %q", roleID, perm)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

func knownPermission(p string) bool {
	for _, k := range KnownPermissions {
		if k == p {
			return true
		}
	}
	return false
}

// Template returns the template with the given id.
func (c *Config) Template(id string) (TemplateConfig, bool) {
	for _, t := range c.Templates {
		if t.ID == id {
			return t, true
		}
	}
	return TemplateConfig{}, false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "auditline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
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

// ToYAML renders the config back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `templates:
  - id: network-security
    name: Network Security Baseline
    category: Network_Security
    description: Perimeter, segmentation and transport controls for networked assets
    questions:
      - {text: "Is a firewall deployed in front of every internet-facing asset?", severity: Critical}
      - {text: "Are firewall rules reviewed at least quarterly?", severity: High}
      - {text: "Is the network segmented between production and corporate zones?", severity: High}
      - {text: "Are unused network ports and services disabled?", severity: Medium}
      - {text: "Is all remote administrative access tunnelled through a VPN or bastion?", severity: Critical}
      - {text: "Is intrusion detection monitoring enabled on critical segments?", severity: High}
      - {text: "Is traffic between services encrypted with TLS 1.2 or later?", severity: High}
      - {text: "Is the network diagram current and stored in the asset register?", severity: Low}
  - id: access-control
    name: Access Control Review
    category: Access_Control
    description: Identity, authentication and privilege management
    questions:
      - {text: "Is multi-factor authentication enforced for privileged accounts?", severity: Critical}
      - {text: "Are user access rights reviewed at least every six months?", severity: High}
      - {text: "Are accounts of departed staff disabled within 24 hours?", severity: High}
      - {text: "Is the principle of least privilege applied to service accounts?", severity: High}
      - {text: "Are shared or generic accounts prohibited?", severity: Medium}
      - {text: "Does the password policy meet the organisational standard?", severity: Medium}
      - {text: "Are failed login attempts logged and rate limited?", severity: Medium}
      - {text: "Is there a documented access request and approval workflow?", severity: Low}
  - id: data-protection
    name: Data Protection Assessment
    category: Data_Protection
    description: Classification, encryption and retention of data held on the asset
    questions:
      - {text: "Is sensitive data encrypted at rest?", severity: Critical}
      - {text: "Are encryption keys stored separately from the data they protect?", severity: High}
      - {text: "Are backups taken on schedule and tested for restore?", severity: High}
      - {text: "Is data classified according to the information classification policy?", severity: Medium}
      - {text: "Are retention periods defined and enforced?", severity: Medium}
      - {text: "Is personal data processing recorded in the processing register?", severity: High}
      - {text: "Is removable media use restricted and logged?", severity: Medium}
      - {text: "Are data disposal procedures documented?", severity: Low}
  - id: physical-security
    name: Physical Security Inspection
    category: Physical_Security
    description: Site and hardware protection for the asset
    questions:
      - {text: "Is access to server rooms restricted to authorised personnel?", severity: Critical}
      - {text: "Are visitor logs maintained for restricted areas?", severity: Medium}
      - {text: "Is CCTV coverage in place for equipment rooms?", severity: Medium}
      - {text: "Are environmental controls (fire suppression, cooling) monitored?", severity: High}
      - {text: "Is uninterruptible power supply capacity tested?", severity: High}
      - {text: "Are equipment racks and cabinets locked?", severity: Medium}
      - {text: "Is hardware tagged and recorded in the asset inventory?", severity: Low}
      - {text: "Are clear desk and clear screen rules enforced?", severity: Low}
  - id: incident-response
    name: Incident Response Readiness
    category: Incident_Response
    description: Detection, escalation and recovery capability
    questions:
      - {text: "Is there an approved incident response plan?", severity: Critical}
      - {text: "Are incident response roles and contacts up to date?", severity: High}
      - {text: "Has the plan been exercised in the last twelve months?", severity: High}
      - {text: "Are security logs retained long enough to support investigations?", severity: High}
      - {text: "Is there a defined severity classification for incidents?", severity: Medium}
      - {text: "Are regulatory notification deadlines documented?", severity: High}
      - {text: "Are lessons learned recorded after each incident?", severity: Medium}
      - {text: "Is an out-of-band communication channel available?", severity: Low}

execution:
  persist_cursor: true

rbac:
  roles:
    owner:
      description: Full access
      permissions: [template.read, audit.create, audit.read, checklist.start, checklist.read, checklist.answer, checklist.complete, checklist.delete, events.read]
    auditor:
      description: Runs checklists
      permissions: [template.read, audit.read, checklist.start, checklist.read, checklist.answer, checklist.complete, events.read]
    viewer:
      description: Read only
      permissions: [template.read, audit.read, checklist.read]
`
