package models

// OutboundMessageRequest represents a message pushed to an operator.
type OutboundMessageRequest struct {
	To         string        `json:"to" binding:"required"`
	Message    string        `json:"message" binding:"required"`
	PreviewURL bool          `json:"preview_url"`
	Buttons    []ReplyButton `json:"buttons,omitempty"`
}

// ReplyButton is an interactive quick-reply button. Its ID comes back in the
// webhook when the operator taps it.
type ReplyButton struct {
	ID    string `json:"id" binding:"required"`
	Title string `json:"title" binding:"required"`
}

// DoneButton builds the completion button attached to due action messages.
func DoneButton(ref ActionRef) ReplyButton {
	return ReplyButton{ID: ref.String(), Title: "✅ Done"}
}
