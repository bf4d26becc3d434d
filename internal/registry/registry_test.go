package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lazerflow/lazerflow/internal/engine"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

type greetWorkflow struct {
	flow.Base
}

func (w *greetWorkflow) Name() string { return "greet" }

func (w *greetWorkflow) Steps() flow.StepMap {
	return flow.StepMap{
		flow.StartStep: {Run: func(ctx context.Context, p flow.Params) (flow.Transition, error) {
			return flow.Done("hello " + p.String("who")), nil
		}},
	}
}

func greetDef() Definition {
	return Definition{
		Name:        "greet",
		Description: "says hello",
		ParamsSchema: json.RawMessage(`{
			"type": "object",
			"required": ["who"],
			"properties": {"who": {"type": "string", "minLength": 1}}
		}`),
		New: func() flow.Workflow { return &greetWorkflow{} },
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	if err := r.Register(greetDef()); err != nil {
		t.Fatalf("register: %v", err)
	}

	def, err := r.Get("greet")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if def.Description != "says hello" {
		t.Errorf("description = %q", def.Description)
	}

	if _, err := r.Get("missing"); flow.CodeOf(err) != flow.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New()
	if err := r.Register(greetDef()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(greetDef()); flow.CodeOf(err) != flow.ErrCodeConflict {
		t.Errorf("expected CONFLICT, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	if err := r.Register(Definition{New: func() flow.Workflow { return &greetWorkflow{} }}); flow.CodeOf(err) != flow.ErrCodeValidation {
		t.Errorf("missing name: expected VALIDATION_ERROR, got %v", err)
	}
	if err := r.Register(Definition{Name: "no-factory"}); flow.CodeOf(err) != flow.ErrCodeValidation {
		t.Errorf("missing factory: expected VALIDATION_ERROR, got %v", err)
	}
}

func TestListSorted(t *testing.T) {
	r := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		def := greetDef()
		def.Name = name
		if err := r.Register(def); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	defs := r.List()
	if len(defs) != 3 {
		t.Fatalf("len = %d", len(defs))
	}
	if defs[0].Name != "alpha" || defs[2].Name != "zeta" {
		t.Errorf("not sorted: %s, %s, %s", defs[0].Name, defs[1].Name, defs[2].Name)
	}
}

func TestValidateParams(t *testing.T) {
	r := New()
	if err := r.Register(greetDef()); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.ValidateParams("greet", flow.Params{"who": "world"}); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	if err := r.ValidateParams("greet", flow.Params{}); flow.CodeOf(err) != flow.ErrCodeValidation {
		t.Errorf("missing required: expected VALIDATION_ERROR, got %v", err)
	}
	if err := r.ValidateParams("greet", flow.Params{"who": 7}); flow.CodeOf(err) != flow.ErrCodeValidation {
		t.Errorf("wrong type: expected VALIDATION_ERROR, got %v", err)
	}
}

func TestValidateParamsNoSchema(t *testing.T) {
	r := New()
	def := greetDef()
	def.ParamsSchema = nil
	if err := r.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.ValidateParams("greet", flow.Params{"anything": true}); err != nil {
		t.Errorf("schemaless params rejected: %v", err)
	}
}

func TestLauncherStartByName(t *testing.T) {
	r := New()
	if err := r.Register(greetDef()); err != nil {
		t.Fatalf("register: %v", err)
	}
	eng := engine.New(engine.Config{DefaultStepTimeout: 5 * time.Second})
	defer eng.Shutdown(context.Background())

	l := &Launcher{Registry: r, Engine: eng}

	id, err := l.StartByName(context.Background(), "greet", flow.Params{"who": "world"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		snap, err := eng.Get(id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if snap.Status.IsTerminal() {
			if snap.Status != flow.StatusCompleted {
				t.Fatalf("status = %s, err = %v", snap.Status, snap.Error)
			}
			if snap.Result != "hello world" {
				t.Errorf("result = %v", snap.Result)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("workflow never finished, status %s", snap.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := l.StartByName(context.Background(), "missing", nil); flow.CodeOf(err) != flow.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if _, err := l.StartByName(context.Background(), "greet", flow.Params{}); flow.CodeOf(err) != flow.ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}
