package shared

import "context"

// Role is the authority a principal acts with.
type Role string

const (
	// RoleHeadquarters approves, rejects and ships orders for every branch.
	RoleHeadquarters Role = "HQ"
	// RoleBranch requests, cancels and receives orders for its own branch.
	RoleBranch Role = "BRANCH"
)

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	return r == RoleHeadquarters || r == RoleBranch
}

// Principal is the authenticated caller.
type Principal struct {
	UserID   int64
	BranchID int64
	Role     Role
}

// IsHeadquarters reports whether the principal holds the headquarters role.
func (p Principal) IsHeadquarters() bool {
	return p.Role == RoleHeadquarters
}

// CanSeeBranch reports whether records of branchID are visible to the principal.
func (p Principal) CanSeeBranch(branchID int64) bool {
	return p.IsHeadquarters() || (p.BranchID != 0 && p.BranchID == branchID)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
