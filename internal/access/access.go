// Package access evaluates per-repository permission checks.
//
// Permissions form a strict hierarchy: admin implies write, write implies
// read. The hierarchy is computed at check time — a user granted only
// admin passes a write-level check without write being stored anywhere.
package access

// Permission is a granted permission token.
type Permission string

const (
	Read  Permission = "read"
	Write Permission = "write"
	Admin Permission = "admin"
)

// rank orders permissions for implication. Higher implies lower.
var rank = map[Permission]int{
	Read:  1,
	Write: 2,
	Admin: 3,
}

// Valid reports whether p is a known permission token.
func Valid(p Permission) bool {
	_, ok := rank[p]
	return ok
}

// Implies reports whether holding `held` satisfies a check for `required`.
func Implies(held, required Permission) bool {
	h, ok := rank[held]
	if !ok {
		return false
	}
	r, ok := rank[required]
	if !ok {
		return false
	}
	return h >= r
}

// Reason explains a denial.
type Reason string

const (
	// ReasonNotWhitelisted means the user does not appear in the
	// repository's access control list at all.
	ReasonNotWhitelisted Reason = "not_whitelisted"
	// ReasonNoSuchGrant means the user is listed but holds no token that
	// implies the required level.
	ReasonNoSuchGrant Reason = "no_such_grant"
)

// Decision is the result of an access evaluation. Exactly one of Allowed
// or Reason is meaningful.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// ControlList maps a user identifier to their granted permission tokens.
type ControlList map[string][]Permission

// Check reports whether user holds required (or an implying token) on the
// given access control list. Pure, no caching.
func Check(acl ControlList, user string, required Permission) bool {
	return Evaluate(acl, user, required).Allowed
}

// Evaluate returns an allow decision or a denial with its reason.
func Evaluate(acl ControlList, user string, required Permission) Decision {
	granted, ok := acl[user]
	if !ok || len(granted) == 0 {
		return Decision{Reason: ReasonNotWhitelisted}
	}
	for _, p := range granted {
		if Implies(p, required) {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: ReasonNoSuchGrant}
}
