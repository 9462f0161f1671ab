package bruteforce

import (
	"testing"
	"time"
)

func TestEvaluateThresholdTable(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		name       string
		identifier int
		ip         int
		want       Decision
	}{
		{"clean", 0, 0, Decision{Allowed: true}},
		{"below captcha", 2, 0, Decision{Allowed: true}},
		{"identifier captcha", 3, 0, Decision{Allowed: true, RequireCaptcha: true, Reason: ReasonIdentifierCaptcha}},
		{"identifier delay", 5, 0, Decision{Allowed: true, Wait: 30 * time.Second, Reason: ReasonIdentifierDelay}},
		{"identifier lock", 10, 0, Decision{Wait: 15 * time.Minute, Reason: ReasonIdentifierLocked}},
		{"identifier hard lock", 20, 0, Decision{Wait: time.Hour, Reason: ReasonIdentifierLocked}},
		{"identifier alert", 50, 0, Decision{Wait: time.Hour, Alert: true, Reason: ReasonIdentifierLocked}},
		{"ip captcha", 0, 20, Decision{Allowed: true, RequireCaptcha: true, Reason: ReasonIPCaptcha}},
		{"ip delay", 0, 50, Decision{Allowed: true, Wait: 10 * time.Second, Reason: ReasonIPDelay}},
		{"ip block", 0, 100, Decision{Wait: time.Hour, Reason: ReasonIPBlocked}},
		{"ip hard block with alert", 0, 500, Decision{Wait: 24 * time.Hour, Alert: true, Reason: ReasonIPBlocked}},
		{"identifier precedence over ip", 3, 500, Decision{Allowed: true, RequireCaptcha: true, Reason: ReasonIdentifierCaptcha}},
		{"identifier lock beats ip captcha", 10, 20, Decision{Wait: 15 * time.Minute, Reason: ReasonIdentifierLocked}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(p, tc.identifier, tc.ip)
			if got != tc.want {
				t.Fatalf("Evaluate(%d, %d) = %+v, want %+v", tc.identifier, tc.ip, got, tc.want)
			}
		})
	}
}

func TestEvaluateIsMonotonic(t *testing.T) {
	p := DefaultPolicy()

	denied := false
	for n := 0; n <= 60; n++ {
		d := Evaluate(p, n, 0)
		if denied && d.Allowed {
			t.Fatalf("decision relaxed at %d identifier failures", n)
		}
		if !d.Allowed {
			denied = true
		}
	}
	if !denied {
		t.Fatal("identifier escalation never reached a lock level")
	}
}
