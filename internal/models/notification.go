package models

// Notification is a plain-text message for the operator mailbox.
type Notification struct {
	From    string
	To      []string
	Subject string
	Body    string
}
