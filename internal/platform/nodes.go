package platform

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"flowsentinel/backend/pkg/models"
)

// rawNodeType is one entry of the platform's node type listing.
type rawNodeType struct {
	Name           string          `json:"name"`
	DisplayName    string          `json:"displayName"`
	Group          []string        `json:"group"`
	Version        json.RawMessage `json:"version"`
	DefaultVersion float64         `json:"defaultVersion"`
	Properties     []rawProperty   `json:"properties"`
	Credentials    []struct {
		Name     string `json:"name"`
		Required bool   `json:"required"`
	} `json:"credentials"`
}

type rawProperty struct {
	Name           string      `json:"name"`
	Type           string      `json:"type"`
	Required       bool        `json:"required"`
	Default        any         `json:"default"`
	Options        []rawOption `json:"options"`
	DisplayOptions struct {
		Show map[string][]any `json:"show"`
	} `json:"displayOptions"`
}

// rawOption is a selectable value. Collection properties reuse the options
// key for nested properties, which carry no value.
type rawOption struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func (r rawNodeType) descriptor() models.NodeTypeDescriptor {
	versions := parseVersions(r.Version)
	current := r.DefaultVersion
	if current == 0 && len(versions) > 0 {
		current = slices.Max(versions)
	}

	d := models.NodeTypeDescriptor{
		Type:           r.Name,
		DisplayName:    r.DisplayName,
		CurrentVersion: current,
		Versions:       versions,
		Trigger:        slices.Contains(r.Group, "trigger") || strings.HasSuffix(r.Name, "Trigger"),
	}

	index := make(map[string]int)
	for _, rp := range r.Properties {
		if rp.Name == "" {
			continue
		}
		p := rp.schema()
		if i, ok := index[p.Name]; ok {
			d.Properties[i] = mergeProperty(d.Properties[i], p)
			continue
		}
		index[p.Name] = len(d.Properties)
		d.Properties = append(d.Properties, p)
	}
	if op, ok := d.Property("operation"); ok {
		d.Operations = op.Options
	}
	for _, c := range r.Credentials {
		d.Credentials = append(d.Credentials, models.CredentialRequirement{Name: c.Name, Required: c.Required})
	}
	return d
}

func (rp rawProperty) schema() models.PropertySchema {
	p := models.PropertySchema{
		Name:     rp.Name,
		Type:     rp.Type,
		Required: rp.Required,
		Default:  rp.Default,
	}
	if rp.Type == models.PropertyOptions || rp.Type == models.PropertyMultiOptions {
		for _, o := range rp.Options {
			if o.Value == nil {
				continue
			}
			p.Options = appendUnique(p.Options, fmt.Sprint(o.Value))
		}
	}
	for _, v := range rp.DisplayOptions.Show["operation"] {
		p.Operations = appendUnique(p.Operations, fmt.Sprint(v))
	}
	return p
}

// mergeProperty combines two definitions of the same parameter that are
// shown under different conditions.
func mergeProperty(a, b models.PropertySchema) models.PropertySchema {
	a.Required = a.Required && b.Required
	for _, o := range b.Options {
		a.Options = appendUnique(a.Options, o)
	}
	if len(a.Operations) == 0 || len(b.Operations) == 0 {
		a.Operations = nil
	} else {
		for _, op := range b.Operations {
			a.Operations = appendUnique(a.Operations, op)
		}
	}
	if a.Default == nil {
		a.Default = b.Default
	}
	return a
}

// parseVersions accepts a single version number or a list of them.
func parseVersions(raw json.RawMessage) []float64 {
	if len(raw) == 0 {
		return nil
	}
	var one float64
	if err := json.Unmarshal(raw, &one); err == nil {
		return []float64{one}
	}
	var many []float64
	if err := json.Unmarshal(raw, &many); err == nil {
		slices.Sort(many)
		return slices.Compact(many)
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
