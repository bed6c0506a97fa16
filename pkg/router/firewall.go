package router

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
)

// PayloadFirewall validates action payloads against per-action-type JSON
// Schemas before any routing happens. A malformed payload is rejected
// fail-closed; action types without a schema pass through.
type PayloadFirewall struct {
	schemas map[contracts.ActionType]*jsonschema.Schema
}

func NewPayloadFirewall() *PayloadFirewall {
	return &PayloadFirewall{schemas: make(map[contracts.ActionType]*jsonschema.Schema)}
}

// AddSchema registers a draft 2020-12 schema for an action type.
func (f *PayloadFirewall) AddSchema(t contracts.ActionType, schema string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://failsafe.schemas.local/actions/%s.schema.json", t)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("firewall schema load for %s: %w", t, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("firewall schema compile for %s: %w", t, err)
	}
	f.schemas[t] = compiled
	return nil
}

// Validate checks the action payload against its type's schema, if any.
func (f *PayloadFirewall) Validate(action *contracts.ProposedAction) error {
	schema, ok := f.schemas[action.Type]
	if !ok {
		return nil
	}
	if action.Payload == nil {
		return fmt.Errorf("firewall blocked %s: missing payload", action.Type)
	}
	if err := schema.Validate(any(action.Payload)); err != nil {
		return fmt.Errorf("firewall blocked %s: %w", action.Type, err)
	}
	return nil
}
