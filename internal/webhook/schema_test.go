package webhook

import "testing"

func TestValidatePayloadShapeAcceptsObject(t *testing.T) {
	if err := ValidatePayloadShape([]byte(`{"projectId": 1}`)); err != nil {
		t.Fatalf("expected object payload to validate, got %v", err)
	}
}

func TestValidatePayloadShapeRejectsNonObject(t *testing.T) {
	if err := ValidatePayloadShape([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected array payload to fail schema validation")
	}
	if err := ValidatePayloadShape([]byte(`not json`)); err == nil {
		t.Fatal("expected invalid JSON to fail")
	}
}
