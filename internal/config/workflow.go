package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tallerflow/ticket-service/internal/domain"
)

// WorkflowFile is the YAML shape of the area/rule configuration.
type WorkflowFile struct {
	InitialArea      string     `yaml:"initial_area"`
	Areas            []AreaFile `yaml:"areas"`
	ForbiddenTargets []string   `yaml:"forbidden_targets"`
	Rules            []RuleFile `yaml:"rules"`
}

// AreaFile configures one area.
type AreaFile struct {
	Name     string   `yaml:"name"`
	Tags     []string `yaml:"tags"`
	Requires []string `yaml:"requires"`
	SLA      string   `yaml:"sla"` // Go duration, empty for no limit
}

// RuleFile marks a from->to move that needs a form.
type RuleFile struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Form string `yaml:"form"`
}

// DefaultWorkflowYAML is used when WORKFLOW_FILE is not set.
const DefaultWorkflowYAML = `
initial_area: Compras
forbidden_targets: [Compras]
areas:
  - name: Compras
    sla: 24h
  - name: Servicio Rapido
    sla: 4h
  - name: Reparacion
    sla: 72h
  - name: Control Calidad
    sla: 24h
  - name: Caja Publicidad
    tags: [publicidad]
    requires: [additionalInfoComplete]
    sla: 48h
  - name: Publicidad Online
    tags: [publicidad]
    requires: [additionalInfoComplete]
    sla: 72h
  - name: Caja Despacho
    tags: [despacho]
    requires: [additionalInfoComplete, qaProgress]
    sla: 24h
  - name: Caja Reciclaje
  - name: Listo Venta
rules:
  - from: Reparacion
    to: Caja Reciclaje
    form: recycle_reason
  - from: Control Calidad
    to: Listo Venta
    form: sale_pricing
  - from: Caja Publicidad
    to: Listo Venta
    form: sale_pricing
`

// LoadWorkflow reads a workflow YAML file, or the built-in default when path
// is empty.
func LoadWorkflow(path string) (*domain.Workflow, error) {
	if path == "" {
		return ParseWorkflow([]byte(DefaultWorkflowYAML))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read workflow %s: %w", path, err)
	}
	return ParseWorkflow(data)
}

// ParseWorkflow unmarshals YAML bytes into a validated workflow.
func ParseWorkflow(data []byte) (*domain.Workflow, error) {
	var file WorkflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse workflow: %w", err)
	}
	file.applyDefaults()
	return file.build()
}

func (f *WorkflowFile) applyDefaults() {
	if f.InitialArea == "" && len(f.Areas) > 0 {
		f.InitialArea = f.Areas[0].Name
	}
	for i := range f.Areas {
		f.Areas[i].Name = strings.TrimSpace(f.Areas[i].Name)
		f.Areas[i].Tags = nameTags(f.Areas[i].Name, f.Areas[i].Tags)
	}
}

// nameTags adds the free-pass family tag to any area whose name contains
// "Publicidad" or "Despacho", so tagless YAML keeps the shortcut.
func nameTags(name string, tags []string) []string {
	families := []struct {
		word string
		tag  domain.AreaTag
	}{
		{"Publicidad", domain.TagPublicidad},
		{"Despacho", domain.TagDespacho},
	}
	for _, fam := range families {
		if !strings.Contains(name, fam.word) {
			continue
		}
		present := false
		for _, t := range tags {
			if strings.EqualFold(strings.TrimSpace(t), string(fam.tag)) {
				present = true
				break
			}
		}
		if !present {
			tags = append(tags, string(fam.tag))
		}
	}
	return tags
}

func (f *WorkflowFile) build() (*domain.Workflow, error) {
	if len(f.Areas) == 0 {
		return nil, fmt.Errorf("config: workflow defines no areas")
	}

	areas := make([]domain.AreaDefinition, 0, len(f.Areas))
	for _, a := range f.Areas {
		def := domain.AreaDefinition{Name: domain.Area(a.Name)}
		if a.SLA != "" {
			d, err := time.ParseDuration(a.SLA)
			if err != nil {
				return nil, fmt.Errorf("config: area %q sla: %w", a.Name, err)
			}
			def.SLA = d
		}
		for _, tag := range a.Tags {
			def.Tags = append(def.Tags, domain.AreaTag(strings.ToLower(strings.TrimSpace(tag))))
		}
		for _, req := range a.Requires {
			def.Requires = append(def.Requires, domain.Prerequisite(strings.TrimSpace(req)))
		}
		areas = append(areas, def)
	}

	forbidden := make([]domain.Area, 0, len(f.ForbiddenTargets))
	for _, name := range f.ForbiddenTargets {
		forbidden = append(forbidden, domain.Area(name))
	}

	rules := make([]domain.TransitionRule, 0, len(f.Rules))
	for _, r := range f.Rules {
		rules = append(rules, domain.TransitionRule{From: domain.Area(r.From), To: domain.Area(r.To), Form: r.Form})
	}

	w, err := domain.NewWorkflow(domain.Area(f.InitialArea), areas, forbidden, rules)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return w, nil
}
