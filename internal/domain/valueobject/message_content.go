package valueobject

// MessageType 入站消息类型
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeAudio MessageType = "audio"
	MessageTypeOther MessageType = "other"
)

// 渠道原始类型中归入 other 的媒体变体
const (
	VariantVideo    = "video"
	VariantDocument = "document"
)

// ParseMessageType 解析消息类型; video、document 及未知类型归为 other
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case MessageTypeText, MessageTypeImage, MessageTypeAudio:
		return MessageType(s)
	case "extended_text", "conversation":
		return MessageTypeText
	}
	return MessageTypeOther
}

// IsText 是否为纯文本消息
func (t MessageType) IsText() bool {
	return t == MessageTypeText
}

// IsMedia 是否可能携带媒体; 是否入队还取决于 mediaRef
func (t MessageType) IsMedia() bool {
	return t == MessageTypeImage || t == MessageTypeAudio || t == MessageTypeOther
}

// ProcessingStatus 消息处理状态
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// IsTerminal 是否为终态
func (s ProcessingStatus) IsTerminal() bool {
	return s == ProcessingCompleted || s == ProcessingFailed
}

// MessageSource 消息来源
type MessageSource string

const (
	SourceContact MessageSource = "contact"
	SourceAgent   MessageSource = "agent"
	SourceSystem  MessageSource = "system"
)

// ProcessorType 媒体处理能力变体
type ProcessorType string

const (
	ProcessorOCR                ProcessorType = "ocr"
	ProcessorVisionCaption      ProcessorType = "vision_caption"
	ProcessorAudioTranscription ProcessorType = "audio_transcription"
)

// DefaultProcessorFor returns the processor variant for a media message.
// variant is the raw channel type, so documents stored as other still go to OCR.
func DefaultProcessorFor(t MessageType, variant string, preferOCR bool) ProcessorType {
	if t == MessageTypeAudio {
		return ProcessorAudioTranscription
	}
	if variant == VariantDocument {
		return ProcessorOCR
	}
	if preferOCR {
		return ProcessorOCR
	}
	return ProcessorVisionCaption
}

// Error kinds recorded on failed messages.
const (
	ErrorKindRetrieval   = "retrieval_unavailable"
	ErrorKindGeneration  = "generation_failed"
	ErrorKindTimeout     = "timeout"
	ErrorKindQueueFull   = "queue_full"
	ErrorKindSendFailed  = "send_failed"
	ErrorKindJobFailed   = "job_failed"
	ErrorKindEnqueue     = "enqueue_failed"
	ErrorKindNoProcessor = "no_processor"
	ErrorKindCommand     = "command_failed"
)
