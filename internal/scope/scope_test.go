package scope

import (
	"reflect"
	"testing"
)

func TestEvaluateAllowlistAndDenylist(t *testing.T) {
	p := Policy{
		Allowlist: []string{"src/**/*.go"},
		Denylist:  []string{"src/secrets/**"},
	}
	result, err := Evaluate(p, []string{
		"src/app/main.go",
		"src/secrets/keys.go",
		"docs/readme.md",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.OK {
		t.Fatal("expected violations")
	}
	reasons := map[string]string{}
	for _, v := range result.Violations {
		reasons[v.Path] = v.Reason
	}
	if reasons["src/secrets/keys.go"] != "denylist" {
		t.Errorf("expected denylist violation for secrets file, got %v", reasons)
	}
	if reasons["docs/readme.md"] != "not_allowlisted" {
		t.Errorf("expected not_allowlisted violation for docs file, got %v", reasons)
	}
	if _, bad := reasons["src/app/main.go"]; bad {
		t.Error("expected src/app/main.go to pass")
	}
}

func TestEvaluateEmptyAllowlistPermitsEverythingNotDenied(t *testing.T) {
	p := Policy{Denylist: []string{"vendor/**"}}
	result, err := Evaluate(p, []string{"main.go", "vendor/pkg/x.go"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.OK {
		t.Fatal("expected a violation for vendor file")
	}
	if len(result.Violations) != 1 || result.Violations[0].Reason != "denylist" {
		t.Errorf("unexpected violations: %v", result.Violations)
	}
}

func TestEvaluateLockfileRequiresAllowDeps(t *testing.T) {
	p := Policy{Lockfiles: []string{"go.sum", "package-lock.json"}}

	result, err := Evaluate(p, []string{"go.sum"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.OK {
		t.Fatal("expected lockfile violation when allow_deps is false")
	}

	p.AllowDeps = true
	result, err = Evaluate(p, []string{"go.sum"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.OK {
		t.Errorf("expected lockfile change permitted when allow_deps is true, got %v", result.Violations)
	}
}

func TestNormalizeOwnedPathsIsIdempotent(t *testing.T) {
	raw := []string{"./src/app/", "src/app/", "src/lib/**", "src\\win\\dir"}
	once := NormalizeOwnedPaths(raw)
	twice := NormalizeOwnedPaths(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("normalization not idempotent: once=%v twice=%v", once, twice)
	}
	// "./src/app/" and "src/app/" must collapse to the same entry.
	count := 0
	for _, p := range once {
		if p == "src/app/**" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one src/app/** entry, got %d in %v", count, once)
	}
}

func TestCheckOwnershipFlagsOutsidePaths(t *testing.T) {
	owned := NormalizeOwnedPaths([]string{"src/app"})
	violations, err := CheckOwnership(owned, []string{"src/app/main.go", "src/other/x.go"})
	if err != nil {
		t.Fatalf("CheckOwnership: %v", err)
	}
	if len(violations) != 1 || violations[0].Path != "src/other/x.go" {
		t.Errorf("violations = %v, want [src/other/x.go]", violations)
	}
}

func TestPartitionChangedFiles(t *testing.T) {
	p, err := PartitionChangedFiles([]string{".env", "*.local.yaml"}, []string{
		".env", "config.local.yaml", "main.go",
	})
	if err != nil {
		t.Fatalf("PartitionChangedFiles: %v", err)
	}
	if !reflect.DeepEqual(p.Env, []string{".env", "config.local.yaml"}) {
		t.Errorf("Env = %v", p.Env)
	}
	if !reflect.DeepEqual(p.Semantic, []string{"main.go"}) {
		t.Errorf("Semantic = %v", p.Semantic)
	}
}

func TestPartitionChangedFilesNoAllowlistIsAllSemantic(t *testing.T) {
	p, err := PartitionChangedFiles(nil, []string{"a.go", "b.go"})
	if err != nil {
		t.Fatalf("PartitionChangedFiles: %v", err)
	}
	if len(p.Env) != 0 || !reflect.DeepEqual(p.Semantic, []string{"a.go", "b.go"}) {
		t.Errorf("unexpected partition: %+v", p)
	}
}
