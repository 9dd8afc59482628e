package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImplies_Hierarchy(t *testing.T) {
	tests := []struct {
		held     Permission
		required Permission
		want     bool
	}{
		{Admin, Admin, true},
		{Admin, Write, true},
		{Admin, Read, true},
		{Write, Write, true},
		{Write, Read, true},
		{Write, Admin, false},
		{Read, Read, true},
		{Read, Write, false},
		{Read, Admin, false},
		{Permission("bogus"), Read, false},
		{Admin, Permission("bogus"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Implies(tt.held, tt.required),
			"%s implies %s", tt.held, tt.required)
	}
}

// Every subset of granted tokens must satisfy the implication properties:
// admin ⇒ write and read, write ⇒ read, read alone ⇒ nothing higher.
func TestCheck_AllGrantSubsets(t *testing.T) {
	subsets := [][]Permission{
		{},
		{Read},
		{Write},
		{Admin},
		{Read, Write},
		{Read, Admin},
		{Write, Admin},
		{Read, Write, Admin},
	}

	contains := func(s []Permission, p Permission) bool {
		for _, x := range s {
			if x == p {
				return true
			}
		}
		return false
	}

	for _, granted := range subsets {
		acl := ControlList{"u": granted}

		hasAdmin := contains(granted, Admin)
		hasWrite := contains(granted, Write) || hasAdmin
		hasRead := contains(granted, Read) || hasWrite

		assert.Equal(t, hasAdmin, Check(acl, "u", Admin), "granted=%v admin", granted)
		assert.Equal(t, hasWrite, Check(acl, "u", Write), "granted=%v write", granted)
		assert.Equal(t, hasRead, Check(acl, "u", Read), "granted=%v read", granted)
	}
}

func TestCheck_AdminOnlyPassesWrite(t *testing.T) {
	acl := ControlList{"+15551234567": {Admin}}
	assert.True(t, Check(acl, "+15551234567", Write))
	assert.True(t, Check(acl, "+15551234567", Read))
}

func TestEvaluate_Reasons(t *testing.T) {
	acl := ControlList{"alice": {Read}}

	d := Evaluate(acl, "bob", Read)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotWhitelisted, d.Reason)

	d = Evaluate(acl, "alice", Write)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoSuchGrant, d.Reason)

	d = Evaluate(acl, "alice", Read)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestEvaluate_EmptyGrantListIsNotWhitelisted(t *testing.T) {
	acl := ControlList{"alice": {}}
	d := Evaluate(acl, "alice", Read)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotWhitelisted, d.Reason)
}
