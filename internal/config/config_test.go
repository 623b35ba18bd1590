package config

import (
	"testing"
	"time"
)

func TestParseWorkflowDefault(t *testing.T) {
	w, err := LoadWorkflow("")
	if err != nil {
		t.Fatalf("load default workflow: %v", err)
	}
	if w.InitialArea() != "Compras" {
		t.Fatalf("expected Compras initial area, got %q", w.InitialArea())
	}
	if !w.IsForbiddenTarget("Compras") {
		t.Fatalf("expected Compras to be forbidden as manual target")
	}
	if got := w.SLATable()["Servicio Rapido"]; got != 4*time.Hour {
		t.Fatalf("expected 4h sla for Servicio Rapido, got %s", got)
	}
	if _, ok := w.Rule("Control Calidad", "Listo Venta"); !ok {
		t.Fatalf("expected sale_pricing rule")
	}
	if !w.IsFreePass("Publicidad Online", "Caja Despacho") {
		t.Fatalf("expected every publicidad area to get the despacho free pass")
	}
}

func TestParseWorkflowTagsFreePassAreasByName(t *testing.T) {
	w, err := ParseWorkflow([]byte(`
areas:
  - name: Recepcion
  - name: Publicidad X
  - name: Zona Despacho Norte
    tags: [despacho]
  - name: Bodega
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !w.HasTag("Publicidad X", "publicidad") {
		t.Fatalf("expected name-derived publicidad tag")
	}
	if !w.IsFreePass("Publicidad X", "Zona Despacho Norte") || !w.IsFreePass("Zona Despacho Norte", "Publicidad X") {
		t.Fatalf("expected free pass in both directions")
	}
	if w.IsFreePass("Recepcion", "Zona Despacho Norte") || w.IsFreePass("Bodega", "Publicidad X") {
		t.Fatalf("areas without the family words must not get the free pass")
	}
}

func TestParseWorkflowRejectsBadDuration(t *testing.T) {
	_, err := ParseWorkflow([]byte("areas:\n  - name: A\n    sla: soon\n"))
	if err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestParseWorkflowRejectsUnknownPrerequisite(t *testing.T) {
	_, err := ParseWorkflow([]byte("areas:\n  - name: A\n    requires: [paid]\n"))
	if err == nil {
		t.Fatalf("expected prerequisite error")
	}
}

func TestLoadReadsStoreSettings(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("TX_MAX_ATTEMPTS", "7")
	t.Setenv("AUTH_OPERATORS", "ana:$2a$10$abc,luis:$2a$10$def")
	t.Setenv("AUTH_SUPERVISORS", " ana , ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.TxMaxAttempts != 7 {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Auth.Operators["ana"] != "$2a$10$abc" || len(cfg.Auth.Operators) != 2 {
		t.Fatalf("unexpected operators: %v", cfg.Auth.Operators)
	}
	if len(cfg.Auth.Supervisors) != 1 || cfg.Auth.Supervisors[0] != "ana" {
		t.Fatalf("unexpected supervisors: %v", cfg.Auth.Supervisors)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "firestore")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
