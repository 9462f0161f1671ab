package bruteforce

import "time"

// Escalation reasons reported in [Decision.Reason].
const (
	ReasonClear             = ""
	ReasonIdentifierCaptcha = "identifier_captcha"
	ReasonIdentifierDelay   = "identifier_delay"
	ReasonIdentifierLocked  = "identifier_locked"
	ReasonIPCaptcha         = "ip_captcha"
	ReasonIPDelay           = "ip_delay"
	ReasonIPBlocked         = "ip_blocked"
)

// Policy holds the escalation thresholds for the two failure windows.
// Zero-valued fields are filled in by [DefaultPolicy]; callers normally
// start from that and override selectively.
type Policy struct {
	IdentifierWindow time.Duration
	IPWindow         time.Duration

	IdentifierCaptchaAt int
	IdentifierDelayAt   int
	IdentifierDelay     time.Duration
	IdentifierLockAt    int
	IdentifierLock      time.Duration
	IdentifierHardAt    int
	IdentifierHardLock  time.Duration
	IdentifierAlertAt   int

	IPCaptchaAt int
	IPDelayAt   int
	IPDelay     time.Duration
	IPBlockAt   int
	IPBlock     time.Duration
	IPHardAt    int
	IPHardBlock time.Duration
	IPAlertAt   int
}

// DefaultPolicy returns the documented escalation table.
func DefaultPolicy() Policy {
	return Policy{
		IdentifierWindow: 15 * time.Minute,
		IPWindow:         time.Hour,

		IdentifierCaptchaAt: 3,
		IdentifierDelayAt:   5,
		IdentifierDelay:     30 * time.Second,
		IdentifierLockAt:    10,
		IdentifierLock:      15 * time.Minute,
		IdentifierHardAt:    20,
		IdentifierHardLock:  time.Hour,
		IdentifierAlertAt:   50,

		IPCaptchaAt: 20,
		IPDelayAt:   50,
		IPDelay:     10 * time.Second,
		IPBlockAt:   100,
		IPBlock:     time.Hour,
		IPHardAt:    500,
		IPHardBlock: 24 * time.Hour,
		IPAlertAt:   500,
	}
}

// Decision is the outcome of evaluating the failure counts against the
// policy. Wait carries the advisory delay when Allowed is true and the
// remaining lock duration when it is false.
type Decision struct {
	Allowed        bool
	RequireCaptcha bool
	Wait           time.Duration
	Alert          bool
	Reason         string
}

// Evaluate maps the two windowed failure counts onto a [Decision].
// It is a pure function: identifier-scope escalation takes precedence
// over IP-scope when both apply, and within a scope the highest matching
// threshold wins.
func Evaluate(p Policy, identifierFailures, ipFailures int) Decision {
	if d, hit := evaluateIdentifier(p, identifierFailures); hit {
		return d
	}
	if d, hit := evaluateIP(p, ipFailures); hit {
		return d
	}
	return Decision{Allowed: true}
}

func evaluateIdentifier(p Policy, failures int) (Decision, bool) {
	switch {
	case failures >= p.IdentifierHardAt:
		return Decision{
			Wait:   p.IdentifierHardLock,
			Alert:  failures >= p.IdentifierAlertAt,
			Reason: ReasonIdentifierLocked,
		}, true
	case failures >= p.IdentifierLockAt:
		return Decision{Wait: p.IdentifierLock, Reason: ReasonIdentifierLocked}, true
	case failures >= p.IdentifierDelayAt:
		return Decision{Allowed: true, Wait: p.IdentifierDelay, Reason: ReasonIdentifierDelay}, true
	case failures >= p.IdentifierCaptchaAt:
		return Decision{Allowed: true, RequireCaptcha: true, Reason: ReasonIdentifierCaptcha}, true
	}
	return Decision{}, false
}

func evaluateIP(p Policy, failures int) (Decision, bool) {
	switch {
	case failures >= p.IPHardAt:
		return Decision{
			Wait:   p.IPHardBlock,
			Alert:  failures >= p.IPAlertAt,
			Reason: ReasonIPBlocked,
		}, true
	case failures >= p.IPBlockAt:
		return Decision{Wait: p.IPBlock, Reason: ReasonIPBlocked}, true
	case failures >= p.IPDelayAt:
		return Decision{Allowed: true, Wait: p.IPDelay, Reason: ReasonIPDelay}, true
	case failures >= p.IPCaptchaAt:
		return Decision{Allowed: true, RequireCaptcha: true, Reason: ReasonIPCaptcha}, true
	}
	return Decision{}, false
}

// LockLevel reports whether the decision denies the attempt outright.
func (d Decision) LockLevel() bool {
	return !d.Allowed
}
