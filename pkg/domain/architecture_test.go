package domain

import (
	"testing"

	"entityportal/testutil"
)

// The contracts package sits below everything else in the module.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/domain must stay implementation free")
	testutil.AssertNoDirectImports(t, ".", testutil.PackagesForbidden("entityportal/pkg/entity", "entityportal/pkg/rules"), "pkg/domain is imported by the engine, not the reverse")
}

func TestDomainImportsOnlyStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ThirdPartyImportForbidden, "pkg/domain imports the standard library only")
}
