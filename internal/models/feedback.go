package models

// Feedback request types.
const (
	FeedbackTypeCallback = "callback"
	FeedbackTypeFeedback = "feedback"

	FeedbackDefaultStatus = "New"
	FeedbackAdSource      = "Feedback"
)

// SubmitFeedbackRequest is the body of POST /api/feedback.
type SubmitFeedbackRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	DateCreated string `json:"date_created"`
}

// TypeLabel is the human-readable request kind used in operator mail.
func (r SubmitFeedbackRequest) TypeLabel() string {
	if r.Type == "" || r.Type == FeedbackTypeCallback {
		return "Callback"
	}
	return "Feedback"
}

type SubmitFeedbackResult struct {
	Success    bool   `json:"success"`
	FeedbackID ItemID `json:"feedbackId"`
}
