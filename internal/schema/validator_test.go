package schema

import (
	"testing"
)

func TestUnregisteredTagPasses(t *testing.T) {
	r := NewRegistry()
	result := r.Validate("anything", []byte(`{"whatever": true}`))
	if !result.Valid {
		t.Error("unregistered type tags must pass validation")
	}
}

func TestRegisterAndValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterFromJSON("announcement", "Artifact announcement", ArtifactAnnouncementSchema); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	good := r.Validate("announcement", []byte(`{"artifact_id": "abc", "size": 10}`))
	if !good.Valid {
		t.Errorf("valid payload rejected: %+v", good.Errors)
	}

	bad := r.Validate("announcement", []byte(`{"size": -1}`))
	if bad.Valid {
		t.Error("payload missing required field must fail")
	}
	if len(bad.Errors) == 0 {
		t.Error("failures must carry structured errors")
	}
}

func TestInvalidSchemaRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterFromJSON("broken", "Broken", []byte(`{"type": 42}`)); err == nil {
		t.Error("malformed schema definition must fail to register")
	}
}

func TestMalformedPayloadFails(t *testing.T) {
	r := NewRegistry()
	r.RegisterFromJSON("presence", "Presence", PresenceSchema)

	result := r.Validate("presence", []byte(`not json at all`))
	if result.Valid {
		t.Error("unparseable payload must fail validation")
	}
}

func TestRegistryBookkeeping(t *testing.T) {
	r := NewRegistry()
	r.RegisterFromJSON("presence", "Presence", PresenceSchema)

	if !r.HasSchema("presence") {
		t.Error("registered schema should be present")
	}
	if _, ok := r.Get("presence"); !ok {
		t.Error("get should find the schema")
	}
	if len(r.ListSchemas()) != 1 {
		t.Error("list should show one schema")
	}

	r.Unregister("presence")
	if r.HasSchema("presence") {
		t.Error("unregistered schema should be gone")
	}
}
