package bot

// Action is an outbound intent produced by HandleInbound. The handler
// mutates scheduling state but performs no sends itself; the executor
// carries the intents to the gateway.
type Action interface{ isAction() }

// SendText replies to a chat with plain text (command results, errors,
// usage help).
type SendText struct {
	To   string
	Text string
}

// ForwardReply routes the owner's answer privately to a prior group
// sender (a consumed reply session).
type ForwardReply struct {
	To   string
	Text string
}

// NotifyOwner tells the owner about a matched group reply, with a deep
// link to open a private chat with the sender. Falls back to the
// owner_notify template when the messaging window is closed.
type NotifyOwner struct {
	To         string
	GroupName  string
	SenderName string
	Snippet    string
	ChatLink   string
}

func (SendText) isAction()     {}
func (ForwardReply) isAction() {}
func (NotifyOwner) isAction()  {}
