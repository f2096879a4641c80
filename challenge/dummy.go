//go:build dummy_captcha

package challenge

// This file only compiles into test/CI builds built with -tags
// dummy_captcha. It forces every challenge's characters to "a" so
// end-to-end tests don't need to decode the PNG to solve it. It must
// never be linked into the production binary.

func init() {
	newGenerateChars := func() (string, error) { return "a", nil }
	defaultGenerateChars = newGenerateChars
}
