package clerkx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	admin := &Claims{Subject: "user-1", Roles: []string{"admin", "billing"}}
	member := &Claims{Subject: "user-2", Roles: []string{"member"}}
	nobody := &Claims{Subject: "user-3"}

	assert.True(t, Authorize(admin, "admin"))
	assert.True(t, Authorize(admin, "owner", "admin"), "any intersection authorizes")
	assert.False(t, Authorize(member, "admin"))
	assert.False(t, Authorize(nobody, "admin"), "empty role set never intersects")
	assert.False(t, Authorize(nil, "admin"))

	assert.True(t, Authorize(nobody), "empty required set demands nothing")
	assert.True(t, Authorize(nil))
}

func TestAuthorizeCaseInsensitive(t *testing.T) {
	claims := &Claims{Roles: []string{"admin"}}
	assert.True(t, Authorize(claims, "Admin"))
	assert.True(t, Authorize(claims, " ADMIN "))
}

func TestCollectRoles(t *testing.T) {
	private := map[string]any{
		"role":        "Admin",
		"roles":       []any{"editor", "admin"},
		"org_role":    "org:admin",
		"permissions": []string{"billing:read"},
	}
	roles := collectRoles(private)
	assert.ElementsMatch(t, []string{"admin", "editor", "org:admin", "billing:read"}, roles)
}
