package model

import "fmt"

type (
	// SessionAuth is the evaluated identity of the viewer.
	SessionAuth struct {
		UserId   UserId  `json:"user_id"`
		GroupId  GroupId `json:"group_id"`
		Eligible bool    `json:"eligible"`
		Admin    bool    `json:"admin"`
	}

	// EngineSession is the per browsing context engine state.
	// Running is derived: DesiredEnabled && Auth.Eligible && PageInScope.
	EngineSession struct {
		Running            bool        `json:"running"`
		PausedByVisibility bool        `json:"paused_by_visibility"`
		DesiredEnabled     bool        `json:"desired_enabled"`
		PageInScope        bool        `json:"page_in_scope"`
		Auth               SessionAuth `json:"auth"`
	}

	// Page is the host page the engine is attached to.
	Page struct {
		ForumId ForumId `json:"forum_id"`
		Url     string  `json:"url"`
	}
)

// Recompute derives Running from the inputs.
func (s *EngineSession) Recompute() {
	s.Running = s.DesiredEnabled && s.Auth.Eligible && s.PageInScope
}

// String implements the stringer interface.
func (s EngineSession) String() string {
	return fmt.Sprintf("running=%t paused=%t enabled=%t inScope=%t eligible=%t",
		s.Running, s.PausedByVisibility, s.DesiredEnabled, s.PageInScope, s.Auth.Eligible)
}

// NoticeLevel is the severity of user feedback.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible feedback message (toast).
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}
