package planner

import (
	"reflect"
	"testing"
)

func TestBuildGroupsToolsByService(t *testing.T) {
	mapping := map[string]string{
		"bandit": "static-analyzer",
		"safety": "static-analyzer",
		"eslint": "js-analyzer",
	}
	ctx := NewContext("gpt-4", 3, []string{"eslint", "bandit", "safety"})

	plan := Build(ctx, mapping, "local")

	want := []Delegation{
		{Service: "js-analyzer", Tools: []string{"eslint"}},
		{Service: "static-analyzer", Tools: []string{"bandit", "safety"}},
	}
	if !reflect.DeepEqual(plan.Delegations, want) {
		t.Errorf("delegations = %+v, want %+v", plan.Delegations, want)
	}
	if len(plan.LocalTools) != 0 {
		t.Errorf("local tools = %v, want none", plan.LocalTools)
	}
	if !plan.HasWork() {
		t.Error("HasWork() = false, want true")
	}
}

func TestBuildRoutesUnmappedAndLocalTools(t *testing.T) {
	mapping := map[string]string{
		"bandit":       "static-analyzer",
		"scratch-lint": "local",
	}
	ctx := NewContext("gpt-4", 1, []string{"bandit", "scratch-lint", "mystery"})

	plan := Build(ctx, mapping, "local")

	if len(plan.Delegations) != 1 || plan.Delegations[0].Service != "static-analyzer" {
		t.Fatalf("delegations = %+v, want one for static-analyzer", plan.Delegations)
	}
	wantLocal := []string{"mystery", "scratch-lint"}
	if !reflect.DeepEqual(plan.LocalTools, wantLocal) {
		t.Errorf("local tools = %v, want %v", plan.LocalTools, wantLocal)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	mapping := map[string]string{
		"a": "svc-b", "b": "svc-a", "c": "svc-b", "d": "svc-a",
	}
	ctx := NewContext("m", 1, []string{"d", "c", "b", "a"})

	first := Build(ctx, mapping, "local")
	for i := 0; i < 20; i++ {
		again := Build(ctx, mapping, "local")
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("plan differs between runs: %+v vs %+v", first, again)
		}
	}
	if first.Delegations[0].Service != "svc-a" {
		t.Errorf("first delegation = %q, want svc-a", first.Delegations[0].Service)
	}
}

func TestBuildEmptyPlan(t *testing.T) {
	plan := Build(NewContext("m", 1, nil), map[string]string{"x": "svc"}, "local")
	if plan.HasWork() {
		t.Error("HasWork() = true for empty tool set")
	}
}

func TestNewContextDeduplicates(t *testing.T) {
	ctx := NewContext("m", 1, []string{"b", "a", "b", "", "a"})
	want := []string{"a", "b"}
	if !reflect.DeepEqual(ctx.Tools, want) {
		t.Errorf("tools = %v, want %v", ctx.Tools, want)
	}
}

func TestWithToolsDoesNotMutateReceiver(t *testing.T) {
	ctx := NewContext("m", 1, []string{"a", "b"})
	derived := ctx.WithTools([]string{"a"})
	if !reflect.DeepEqual(ctx.Tools, []string{"a", "b"}) {
		t.Errorf("original tools mutated: %v", ctx.Tools)
	}
	if !reflect.DeepEqual(derived.Tools, []string{"a"}) {
		t.Errorf("derived tools = %v, want [a]", derived.Tools)
	}
}

func TestAllTools(t *testing.T) {
	plan := &Plan{
		Delegations: []Delegation{
			{Service: "s1", Tools: []string{"bandit"}},
			{Service: "s2", Tools: []string{"eslint"}},
		},
		LocalTools: []string{"scratch-lint"},
	}
	want := []string{"bandit", "eslint", "scratch-lint"}
	if got := plan.AllTools(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllTools() = %v, want %v", got, want)
	}
}
