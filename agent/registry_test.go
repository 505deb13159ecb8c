package agent

import (
	"testing"

	"github.com/kys42/remote-agent/errors"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	registry := NewRegistry()

	def := &Definition{
		ID:          "echo",
		Type:        TypeCustom,
		Executable:  "/bin/cat",
		MaxSessions: 2,
	}
	if err := registry.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	resolved, err := registry.Resolve("echo")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Executable != "/bin/cat" {
		t.Errorf("unexpected executable: %s", resolved.Executable)
	}

	// Registered definitions are copies: mutating the input must not
	// affect the catalog.
	def.Executable = "/bin/false"
	resolved, _ = registry.Resolve("echo")
	if resolved.Executable != "/bin/cat" {
		t.Error("registry should hold a copy of the definition")
	}
}

func TestRegistryValidation(t *testing.T) {
	registry := NewRegistry()

	tests := []struct {
		name string
		def  *Definition
	}{
		{"nil definition", nil},
		{"empty id", &Definition{Executable: "/bin/cat", MaxSessions: 1}},
		{"zero max_sessions", &Definition{ID: "a", Executable: "/bin/cat"}},
		{"missing executable", &Definition{ID: "a", Executable: "/no/such/binary", MaxSessions: 1}},
		{"executable not on path", &Definition{ID: "a", Executable: "definitely-not-a-real-binary", MaxSessions: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Register(tt.def)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, errors.ErrCodeInvalidDefinition) {
				t.Errorf("expected INVALID_DEFINITION, got %v", err)
			}
		})
	}
}

func TestRegistryDuplicate(t *testing.T) {
	registry := NewRegistry()

	def := &Definition{ID: "echo", Executable: "/bin/cat", MaxSessions: 1}
	if err := registry.Register(def); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := registry.Register(&Definition{ID: "echo", Executable: "/bin/cat", MaxSessions: 1})
	if !errors.Is(err, errors.ErrCodeInvalidDefinition) {
		t.Errorf("expected INVALID_DEFINITION for duplicate, got %v", err)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Resolve("missing")
	if !errors.Is(err, errors.ErrCodeUnknownAgentType) {
		t.Errorf("expected UNKNOWN_AGENT_TYPE, got %v", err)
	}
}

func TestRegistryListOrdered(t *testing.T) {
	registry := NewRegistry()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		err := registry.Register(&Definition{ID: id, Executable: "/bin/cat", MaxSessions: 1})
		if err != nil {
			t.Fatalf("Register(%s) failed: %v", id, err)
		}
	}

	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(list))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, def := range list {
		if def.ID != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, def.ID, want[i])
		}
	}
}

func TestRegistryDefaultsTypeToCustom(t *testing.T) {
	registry := NewRegistry()
	input := &Definition{ID: "plain", Executable: "/bin/cat", MaxSessions: 1}
	if err := registry.Register(input); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	def, _ := registry.Resolve("plain")
	if def.Type != TypeCustom {
		t.Errorf("expected custom type default, got %s", def.Type)
	}
	// The default lands on the catalog's copy, not the caller's struct.
	if input.Type != "" {
		t.Errorf("caller's definition was mutated: Type = %s", input.Type)
	}
}
