package feedback

import (
	"time"

	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/policy"
)

// AnonymousID replaces the giver's id wherever an anonymous giver is hidden.
const AnonymousID = "anonymous"

// Person is the public block describing a user inside a feedback response.
type Person struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     *string `json:"email"`
	AvatarURL *string `json:"avatar"`
}

// AnonymousGiver is the fixed placeholder for a hidden giver.
var AnonymousGiver = Person{ID: AnonymousID, Name: "Anonymous"}

type TeamRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CompetencyView struct {
	ID           string `json:"id"`
	CompetencyID string `json:"competency_id"`
	Name         string `json:"name"`
	Category     string `json:"category,omitempty"`
	Rating       int    `json:"rating"`
	Comments     string `json:"comments,omitempty"`
}

type CommentView struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	User       Person    `json:"user"`
	Content    string    `json:"content"`
	IsInternal bool      `json:"is_internal"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type HistoryView struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Action       string    `json:"action"`
	ChangedField string    `json:"changed_field"`
	OldValue     *string   `json:"old_value"`
	NewValue     *string   `json:"new_value"`
	CreatedAt    time.Time `json:"created_at"`
}

// View is the response representation of a feedback.
type View struct {
	ID             string                `json:"id"`
	Type           models.FeedbackType   `json:"type"`
	GiverID        string                `json:"giver_id"`
	Giver          Person                `json:"giver"`
	ReceiverID     string                `json:"receiver_id"`
	Receiver       Person                `json:"receiver"`
	TeamID         *string               `json:"team_id"`
	Team           *TeamRef              `json:"team"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	Rating         int                   `json:"rating"`
	Priority       models.Priority       `json:"priority"`
	Status         models.FeedbackStatus `json:"status"`
	IsAnonymous    bool                  `json:"is_anonymous"`
	IsConfidential bool                  `json:"is_confidential"`
	DueDate        *time.Time            `json:"due_date"`
	Competencies   []CompetencyView      `json:"competencies"`
	Comments       []CommentView         `json:"comments"`
	History        []HistoryView         `json:"history"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func personOf(id string, u *models.User) Person {
	if u == nil {
		return Person{ID: id}
	}
	p := Person{ID: u.ID, Name: u.Name}
	if u.Email != "" {
		email := u.Email
		p.Email = &email
	}
	if u.AvatarURL != "" {
		avatar := u.AvatarURL
		p.AvatarURL = &avatar
	}
	return p
}

// Present builds the response for viewer. It is the only way feedbacks leave
// the service, so anonymous redaction applies to every read path.
func Present(f *models.Feedback, viewer policy.Actor) View {
	reveal := policy.RevealsGiver(f, viewer)

	v := View{
		ID:             f.ID,
		Type:           f.Type,
		GiverID:        f.GiverID,
		Giver:          personOf(f.GiverID, f.Giver),
		ReceiverID:     f.ReceiverID,
		Receiver:       personOf(f.ReceiverID, f.Receiver),
		TeamID:         f.TeamID,
		Title:          f.Title,
		Description:    f.Description,
		Rating:         f.Rating,
		Priority:       f.Priority,
		Status:         f.Status,
		IsAnonymous:    f.IsAnonymous,
		IsConfidential: f.IsConfidential,
		DueDate:        f.DueDate,
		Competencies:   make([]CompetencyView, 0, len(f.Competencies)),
		Comments:       make([]CommentView, 0, len(f.Comments)),
		History:        make([]HistoryView, 0, len(f.History)),
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
	if !reveal {
		v.GiverID = AnonymousID
		v.Giver = AnonymousGiver
	}
	if f.Team != nil {
		v.Team = &TeamRef{ID: f.Team.ID, Name: f.Team.Name}
	}

	for _, fc := range f.Competencies {
		cv := CompetencyView{
			ID:           fc.ID,
			CompetencyID: fc.CompetencyID,
			Rating:       fc.Rating,
			Comments:     fc.Comments,
		}
		if fc.Competency != nil {
			cv.Name = fc.Competency.Name
			cv.Category = fc.Competency.Category
		}
		v.Competencies = append(v.Competencies, cv)
	}

	for i := range f.Comments {
		c := &f.Comments[i]
		if !policy.CanSeeInternalComment(f, c, viewer) {
			continue
		}
		v.Comments = append(v.Comments, presentComment(f, c, reveal))
	}

	for _, h := range f.History {
		hv := HistoryView{
			ID:           h.ID,
			UserID:       h.UserID,
			Action:       h.Action,
			ChangedField: h.ChangedField,
			OldValue:     h.OldValue,
			NewValue:     h.NewValue,
			CreatedAt:    h.CreatedAt,
		}
		if !reveal && h.UserID == f.GiverID {
			hv.UserID = AnonymousID
		}
		v.History = append(v.History, hv)
	}

	return v
}

// PresentComment builds a single comment response for viewer.
func PresentComment(f *models.Feedback, c *models.Comment, viewer policy.Actor) CommentView {
	return presentComment(f, c, policy.RevealsGiver(f, viewer))
}

func presentComment(f *models.Feedback, c *models.Comment, reveal bool) CommentView {
	cv := CommentView{
		ID:         c.ID,
		UserID:     c.UserID,
		User:       personOf(c.UserID, c.User),
		Content:    c.Content,
		IsInternal: c.IsInternal,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if !reveal && c.UserID == f.GiverID {
		cv.UserID = AnonymousID
		cv.User = AnonymousGiver
	}
	return cv
}
