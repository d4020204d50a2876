// Package policy decides who may read, change, delete and comment on a
// feedback, and which status transitions are legal.
//
// Every function here is a pure predicate over data the caller already
// loaded. Team rights are read from the feedback's Team association
// (manager id and member list); when the association is not loaded the actor
// gets no team rights.
package policy

import (
	"feedbackhub-backend/internal/models"
)

// Actor is the authenticated user a decision is made for.
type Actor struct {
	ID   string
	Role models.Role
}

func ActorFor(u *models.User) Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{ID: u.ID, Role: u.Role}
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

func (a Actor) IsGiver(f *models.Feedback) bool {
	return a.ID != "" && a.ID == f.GiverID
}

func (a Actor) IsReceiver(f *models.Feedback) bool {
	return a.ID != "" && a.ID == f.ReceiverID
}

// ManagesTeam reports whether the actor manages the feedback's team.
func (a Actor) ManagesTeam(f *models.Feedback) bool {
	team := loadedTeam(f)
	return team != nil && a.ID != "" && team.ManagerID == a.ID
}

// MemberOfTeam reports whether the actor belongs to the feedback's team.
func (a Actor) MemberOfTeam(f *models.Feedback) bool {
	team := loadedTeam(f)
	return team != nil && a.ID != "" && team.HasMember(a.ID)
}

func loadedTeam(f *models.Feedback) *models.Team {
	if f.TeamID == nil || f.Team == nil || f.Team.ID != *f.TeamID {
		return nil
	}
	return f.Team
}

// CanView applies the visibility rules in order, first match wins.
func CanView(f *models.Feedback, a Actor) bool {
	switch {
	case a.IsAdmin():
		return true
	case a.IsGiver(f):
		return true
	case a.IsReceiver(f):
		return true
	case a.ManagesTeam(f):
		return true
	case !f.IsConfidential && a.MemberOfTeam(f):
		return true
	}
	return false
}

func CheckView(f *models.Feedback, a Actor) error {
	if !CanView(f, a) {
		return PermissionDenied("you are not allowed to view this feedback")
	}
	return nil
}

// CheckEdit checks permission first, then status. The giver and the team
// manager are refused with InvalidState once the feedback is approved or
// archived; administrators are never refused.
func CheckEdit(f *models.Feedback, a Actor) error {
	if a.IsAdmin() {
		return nil
	}
	if !a.IsGiver(f) && !a.ManagesTeam(f) {
		return PermissionDenied("you are not allowed to edit this feedback")
	}
	if f.Status.IsLocked() {
		return InvalidState("feedback is %s and can no longer be edited", f.Status)
	}
	return nil
}

func CanEdit(f *models.Feedback, a Actor) bool {
	return CheckEdit(f, a) == nil
}

// CheckDelete lets administrators delete anything. The giver and the team
// manager get InvalidState on archived feedback and PermissionDenied on
// approved feedback.
func CheckDelete(f *models.Feedback, a Actor) error {
	if a.IsAdmin() {
		return nil
	}
	if !a.IsGiver(f) && !a.ManagesTeam(f) {
		return PermissionDenied("you are not allowed to delete this feedback")
	}
	switch f.Status {
	case models.StatusArchived:
		return InvalidState("archived feedback cannot be deleted")
	case models.StatusApproved:
		return PermissionDenied("approved feedback can only be deleted by an administrator")
	}
	return nil
}

func CanDelete(f *models.Feedback, a Actor) bool {
	return CheckDelete(f, a) == nil
}

func CanComment(f *models.Feedback, a Actor) bool {
	switch {
	case a.IsAdmin():
		return true
	case a.IsGiver(f):
		return true
	case a.IsReceiver(f):
		return true
	case !f.IsConfidential && a.MemberOfTeam(f):
		return true
	}
	return false
}

func CheckComment(f *models.Feedback, a Actor) error {
	if !CanComment(f, a) {
		return PermissionDenied("you are not allowed to comment on this feedback")
	}
	return nil
}

// CanModifyComment allows only the comment author or an administrator.
func CanModifyComment(c *models.Comment, a Actor) bool {
	return a.IsAdmin() || (a.ID != "" && c.UserID == a.ID)
}

func CheckModifyComment(c *models.Comment, a Actor) error {
	if !CanModifyComment(c, a) {
		return PermissionDenied("only the author can change this comment")
	}
	return nil
}

// CanSeeInternalComment reports whether an internal comment is shown to the actor.
func CanSeeInternalComment(f *models.Feedback, c *models.Comment, a Actor) bool {
	if !c.IsInternal {
		return true
	}
	return a.IsAdmin() || a.ManagesTeam(f) || (a.ID != "" && c.UserID == a.ID)
}

// RevealsGiver reports whether the giver's identity may be shown to the viewer.
func RevealsGiver(f *models.Feedback, viewer Actor) bool {
	return !f.IsAnonymous || viewer.IsGiver(f)
}

// transitions lists the moves open to non-admin actors. Approved and archived
// feedback is locked for them, so only administrators move it.
var transitions = map[models.FeedbackStatus][]models.FeedbackStatus{
	models.StatusDraft:    {models.StatusPending, models.StatusArchived},
	models.StatusPending:  {models.StatusDraft, models.StatusInReview, models.StatusApproved, models.StatusRejected, models.StatusArchived},
	models.StatusInReview: {models.StatusPending, models.StatusApproved, models.StatusRejected, models.StatusArchived},
	models.StatusRejected: {models.StatusDraft, models.StatusPending, models.StatusArchived},
	models.StatusApproved: {},
	models.StatusArchived: {},
}

// ValidStatus reports whether s is one of the canonical statuses.
func ValidStatus(s models.FeedbackStatus) bool {
	_, ok := transitions[s]
	return ok
}

// CheckTransition validates a status change. Administrators may move a
// feedback to any valid status.
func CheckTransition(from, to models.FeedbackStatus, a Actor) error {
	if !ValidStatus(to) {
		return ValidationFailed("unknown status %q", to)
	}
	if from == to || a.IsAdmin() {
		return nil
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return InvalidState("cannot move feedback from %s to %s", from, to)
}
