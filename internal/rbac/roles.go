package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
	// RoleCarrierSupport is the provider's support staff. It is hidden: only routes that
	// name it admit it.
	RoleCarrierSupport = "carrier_support"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleCarrierSupport }

// SeesAllTeams reports whether role reads every team, not only its own.
func SeesAllTeams(role string) bool {
	return role == RoleAdmin || role == RoleSupervisor || role == RoleCarrierSupport
}
