package rbac

type Role string
type Action string

const (
	RoleClient  Role = "client"
	RoleServer  Role = "server"
	RoleProject Role = "project"
	RoleConsole Role = "console"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionAdmin   Action = "admin"
	ActionManage  Action = "manage"
)

// Can reports whether a caller authenticated as role may perform action.
// Server tokens act for the whole application; client sessions only for
// their own user. Project and console callers administer applications but
// never touch platform data directly.
func Can(role Role, action Action) bool {
	switch role {
	case RoleServer:
		return action == ActionRead || action == ActionComment || action == ActionWrite || action == ActionAdmin
	case RoleClient:
		return action == ActionRead || action == ActionComment
	case RoleProject, RoleConsole:
		return action == ActionAdmin || action == ActionManage
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleClient, RoleServer, RoleProject, RoleConsole:
		return Role(role)
	default:
		return RoleClient
	}
}

// CanSeeThread reports whether a viewer belonging to viewerGroups may see a
// thread owned by threadGroup. A non-empty scope restricts the viewer to that
// single group even if they belong to others.
func CanSeeThread(viewerGroups []string, scope, threadGroup string) bool {
	if threadGroup == "" {
		return false
	}
	if scope != "" && scope != threadGroup {
		return false
	}
	for _, group := range viewerGroups {
		if group == threadGroup {
			return true
		}
	}
	return false
}
