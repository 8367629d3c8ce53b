package control

// ReplyKind selects how a transport delivers a Reply.
type ReplyKind int

// Reply kinds.
const (
	ReplyText ReplyKind = iota
	ReplyVoice
	ReplyAudio
	ReplyPhoto
)

// Reply is one outbound chat message.
type Reply struct {
	Kind     ReplyKind
	Text     string // Markdown text; caption for media replies
	Data     []byte
	Filename string
	MIME     string
}

// Text returns a markdown text reply.
func Text(s string) Reply {
	return Reply{Kind: ReplyText, Text: s}
}

// Message strings shared by the handlers.
const (
	MsgHello     = "👋"
	MsgOK        = "✅"
	MsgBell      = "🔔"
	MsgNoAudio   = "No audio recorded yet"
	MsgNoData    = "No amplitude data yet"
	errorMarker  = "❗"
	unknownLabel = "Unknown command: /"
)

// ErrorText formats an out-of-band error report.
func ErrorText(err error) string {
	return errorMarker + " " + err.Error()
}
