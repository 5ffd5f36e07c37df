package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/errs"
)

func TestClassifyErrorMapsKnownStatuses(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want error
	}{
		{"rate limit 429", "googleapi: Error 429: rate limit exceeded", errs.ErrRateLimit},
		{"resource exhausted", "rpc error: code = ResourceExhausted desc = resource_exhausted", errs.ErrRateLimit},
		{"unauthorized", "googleapi: Error 401: invalid api key, unauthenticated", errs.ErrAuthError},
		{"forbidden", "googleapi: Error 403: permission_denied", errs.ErrAuthError},
		{"unrecognized 5xx", "googleapi: Error 503: backend unavailable", errs.ErrUpstreamTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError(errors.New(tc.msg))
			if !errors.Is(got, tc.want) {
				t.Fatalf("classifyError(%q) = %v, want wrapping %v", tc.msg, got, tc.want)
			}
		})
	}
}

func TestBuildPromptIncludesTitleAndSection(t *testing.T) {
	prompt := buildPrompt("Senate passes bill", "politics")
	if !strings.Contains(prompt, "Senate passes bill") || !strings.Contains(prompt, "politics") {
		t.Fatalf("expected prompt to embed title and section, got %q", prompt)
	}
}
