package model

// AudioBytes is the raw recording uploaded by the client.
type AudioBytes []byte

// Transcript represents text produced by a transcription service. It may be empty.
type Transcript string

// ChatReply is the language model's trimmed response text.
type ChatReply string

// SynthesizedAudio is the encoded speech returned by the synthesis service.
type SynthesizedAudio []byte
