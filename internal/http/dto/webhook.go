package dto

// InboundMessageRequest is the normalized message event posted by the
// upstream gateway. Exactly one of Text or AudioURL must be present; a
// Caption may accompany AudioURL.
type InboundMessageRequest struct {
	MessageID      string `json:"message_id" binding:"required"`
	ConversationID string `json:"conversation_id" binding:"required"`
	Sender         string `json:"sender"`
	Text           string `json:"text,omitempty"`
	AudioURL       string `json:"audio_url,omitempty"`
	Caption        string `json:"caption,omitempty"`
}

type InboundMessageResponse struct {
	JobKey   string `json:"job_key"`
	Admitted bool   `json:"admitted"`
}
