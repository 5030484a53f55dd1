// Package auth implements the read-side authorization predicate the API
// controllers inject (spec §4.6, §9 "model as a function-typed parameter
// on the controller struct, not inheritance"). Token validation itself is
// an explicit external collaborator (spec §1 Out of scope) and is not
// implemented here.
package auth

import (
	"fmt"

	"github.com/arXiv/arxiv-compiler/compiler"
)

// Context is the caller's identity and capability set, as already
// extracted from a validated bearer token by an upstream authenticator.
type Context struct {
	UserID string
	Scopes []string
}

// Predicate is the injected is_authorized(task) callback.
type Predicate func(ctx Context, task compiler.Task) bool

// TaskScope is the capability string that grants access to one task_id
// regardless of owner, matching the spec's "qualified scope for the
// task's task_id".
func TaskScope(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}

// Default implements the spec's rule exactly: a task with no owner is
// public; otherwise the caller is authorized iff they hold the task's
// scope or their user id equals the task's owner.
func Default(ctx Context, task compiler.Task) bool {
	if task.Owner == "" {
		return true
	}
	if ctx.UserID == task.Owner {
		return true
	}
	scope := TaskScope(task.TaskID)
	for _, s := range ctx.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
