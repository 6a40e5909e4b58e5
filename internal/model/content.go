package model

// ContentKind tags the closed variant over inbound message content,
// constructed once at ingestion.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentAudioRef ContentKind = "audio"
	ContentCaption  ContentKind = "caption"
)

// MessageContent is the tagged content variant of an inbound message.
// Exactly one of the payload fields is meaningful for a given kind:
// Text for text and caption variants, AudioURL for audio references.
type MessageContent struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	AudioURL string      `json:"audio_url,omitempty"`
}

func TextContent(text string) MessageContent {
	return MessageContent{Kind: ContentText, Text: text}
}

func CaptionContent(caption string) MessageContent {
	return MessageContent{Kind: ContentCaption, Text: caption}
}

func AudioContent(url string) MessageContent {
	return MessageContent{Kind: ContentAudioRef, AudioURL: url}
}
