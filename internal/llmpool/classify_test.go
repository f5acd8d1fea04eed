package llmpool

import "testing"

func TestClassify_NetworkErrorIsTransient(t *testing.T) {
	if got := Classify(CallResult{NetErr: true}); got != ClassTransient {
		t.Fatalf("expected transient, got %v", got)
	}
}

func TestClassify_RetryableStatusCodes(t *testing.T) {
	for _, code := range []int{408, 500, 502, 503, 504} {
		if got := Classify(CallResult{StatusCode: code}); got != ClassTransient {
			t.Fatalf("status %d: expected transient, got %v", code, got)
		}
	}
}

func TestClassify_429WithoutQuotaPhraseIsTransient(t *testing.T) {
	got := Classify(CallResult{StatusCode: 429, Body: "too many requests, slow down"})
	if got != ClassTransient {
		t.Fatalf("expected transient, got %v", got)
	}
}

func TestClassify_429WithQuotaPhraseIsQuotaExceeded(t *testing.T) {
	cases := []string{
		"You have hit your 5-hour limit",
		"5 hour usage cap reached",
		"outside the rolling window",
		"usage limit for your plan exceeded",
		"Subscription Usage Limit reached",
	}
	for _, body := range cases {
		got := Classify(CallResult{StatusCode: 429, Body: body})
		if got != ClassQuotaExceeded {
			t.Fatalf("body %q: expected quota exceeded, got %v", body, got)
		}
	}
}

func TestClassify_401And403ArePermanent(t *testing.T) {
	for _, code := range []int{401, 403} {
		if got := Classify(CallResult{StatusCode: code}); got != ClassPermanent {
			t.Fatalf("status %d: expected permanent, got %v", code, got)
		}
	}
}

func TestClassify_AuthFailurePhraseIsPermanent(t *testing.T) {
	cases := []string{
		"Invalid API key provided",
		"request is unauthorized",
		"access forbidden",
		"authentication failed",
		"invalid token supplied",
		"expired token",
	}
	for _, body := range cases {
		got := Classify(CallResult{StatusCode: 400, Body: body})
		if got != ClassPermanent {
			t.Fatalf("body %q: expected permanent, got %v", body, got)
		}
	}
}

func TestClassify_UnclassifiedNonRetryableStatusIsPermanent(t *testing.T) {
	got := Classify(CallResult{StatusCode: 418, Body: "i'm a teapot"})
	if got != ClassPermanent {
		t.Fatalf("expected permanent for an unclassified status, got %v", got)
	}
}
