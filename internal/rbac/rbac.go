package rbac

type Level string
type Action string

const (
	LevelNone         Level = ""
	LevelViewer       Level = "viewer"
	LevelCollaborator Level = "collaborator"
	LevelAdmin        Level = "admin"
	LevelCreator      Level = "creator"
)

const (
	ActionRead     Action = "read"
	ActionChat     Action = "chat"
	ActionWrite    Action = "write"
	ActionModerate Action = "moderate"
	ActionManage   Action = "manage"
)

func rank(level Level) int {
	switch level {
	case LevelViewer:
		return 1
	case LevelCollaborator:
		return 2
	case LevelAdmin:
		return 3
	case LevelCreator:
		return 4
	default:
		return 0
	}
}

// Can reports whether a holder of level may perform action on an operation.
// Moderate covers editing or deleting other users' messages.
func Can(level Level, action Action) bool {
	switch level {
	case LevelCreator, LevelAdmin:
		return true
	case LevelCollaborator:
		return action == ActionRead || action == ActionChat || action == ActionWrite
	case LevelViewer:
		return action == ActionRead
	default:
		return false
	}
}

// AtLeast reports whether level is min or stronger.
func AtLeast(level, min Level) bool {
	return rank(level) >= rank(min) && rank(level) > 0
}

func Valid(level Level) bool {
	return rank(level) > 0
}

// Parse returns the level named by value, or LevelNone when unknown.
func Parse(value string) Level {
	switch Level(value) {
	case LevelViewer, LevelCollaborator, LevelAdmin, LevelCreator:
		return Level(value)
	default:
		return LevelNone
	}
}

// Grantable reports whether level may be handed out through a grant.
// Creator is assigned only when an operation is created.
func Grantable(level Level) bool {
	return level == LevelViewer || level == LevelCollaborator || level == LevelAdmin
}
