package testutil

import "testing"

// Given, When, and Then nest subtests so scenario output reads as a sentence
// without pulling in a BDD framework.
//
//	testutil.Given(t, "a cached CEP", func(t *testing.T) {
//		testutil.When(t, "it is looked up again", func(t *testing.T) {
//			testutil.Then(t, "no provider is called", func(t *testing.T) { ... })
//		})
//	})
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
