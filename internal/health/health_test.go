package health

import (
	"context"
	"testing"
)

func TestHandler_GetHealth_NoDB(t *testing.T) {
	handler := NewHandler("1.0.0", nil)

	output, err := handler.GetHealth(context.Background(), &Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output == nil {
		t.Fatal("expected non-nil output")
	}
	if output.Body.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", output.Body.Status)
	}
	if output.Body.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %q", output.Body.Version)
	}
	if output.Body.Uptime == "" {
		t.Error("expected non-empty uptime")
	}
	if output.Body.CPU.Cores == 0 {
		t.Error("expected non-zero CPU cores")
	}
	if output.Body.Database.Status != "unknown" {
		t.Errorf("expected database status 'unknown' with no db wired, got %q", output.Body.Database.Status)
	}
}
