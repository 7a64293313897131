package rbac

const (
	PermExamCreate     = "exam:create"
	PermQuestionCreate = "question:create"
	PermAttemptCreate  = "attempt:create"
	PermAttemptSubmit  = "attempt:submit"
	PermResultViewOwn  = "result:view-own"
	PermResultViewAll  = "result:view-all"
)

// Default policy. Admin gets everything.
var RolePermissions = map[string][]string{
	"student": {
		PermAttemptCreate,
		PermAttemptSubmit,
		PermResultViewOwn,
	},
	"teacher": {
		PermExamCreate,
		PermQuestionCreate,
		PermResultViewAll,
		PermResultViewOwn,
	},
	"admin": {
		"*",
	},
}
