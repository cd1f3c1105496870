package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type recorder struct {
	msg string
}

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", `package tmp

import (
	"fmt"
	"entityportal/internal/portal"
)

var _ = fmt.Sprint
var _ portal.Bag
`)
	writeFile(t, dir, "a_test.go", "package tmp\n\nimport _ \"entityportal/internal/tracker\"\n")
	writeFile(t, dir, "notes.txt", "import \"entityportal/internal/tracker\"")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "b.go", "package sub\n\nimport _ \"entityportal/internal/tracker\"\n")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "entityportal/internal/portal (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for a missing dir")
	}
	writeFile(t, dir, "broken.go", "package tmp\nimport (\n")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestAssertNoDirectImportsPasses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\n\nimport \"strings\"\n\nvar _ = strings.ToLower\n")
	AssertNoDirectImports(t, dir, ThirdPartyImportForbidden, "stdlib only")
}

func TestTransitiveDependencyViolations(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nentityportal/pkg/domain\n\nentityportal/internal/transport\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", PackagesForbidden("entityportal/internal/transport"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(viols) != 1 || viols[0] != "entityportal/internal/transport" {
		t.Fatalf("unexpected violations %v", viols)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations(".", InternalImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list failure, got %v %q", err, out)
	}
}

func TestFailIf(t *testing.T) {
	var r recorder
	failIf(&r, "forbidden direct imports detected", "layering", nil)
	if r.msg != "" {
		t.Fatalf("no violations must not fail, got %q", r.msg)
	}
	failIf(&r, "forbidden direct imports detected", "layering", []string{"a", "b"})
	if r.msg != "forbidden direct imports detected (layering):\na\nb" {
		t.Fatalf("unexpected message %q", r.msg)
	}
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred func(string) bool
		path string
		want bool
	}{
		{"internal", InternalImportForbidden, "entityportal/internal/portal", true},
		{"internal root", InternalImportForbidden, "entityportal/internal", true},
		{"not internal", InternalImportForbidden, "entityportal/pkg/internalish", false},
		{"third party", ThirdPartyImportForbidden, "github.com/pkg/errors", true},
		{"stdlib", ThirdPartyImportForbidden, "net/http", false},
		{"module", ThirdPartyImportForbidden, "entityportal/pkg/entity", false},
		{"package", PackagesForbidden("entityportal/internal/portal"), "entityportal/internal/portal", true},
		{"subpackage", PackagesForbidden("entityportal/internal/portal"), "entityportal/internal/portal/x", true},
		{"sibling prefix", PackagesForbidden("entityportal/internal/portal"), "entityportal/internal/portalx", false},
	}
	for _, tc := range cases {
		if got := tc.pred(tc.path); got != tc.want {
			t.Errorf("%s: %s = %v, want %v", tc.name, tc.path, got, tc.want)
		}
	}
}
