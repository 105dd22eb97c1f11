package destination

// Sender is a producer bound to a Destination. Queues and topics that
// restrict publication to a single client track senders by id so that
// AddSender/RemoveSender/RemoveSenderByID can enforce that binding and tear
// it down when a session disconnects.
type Sender struct {
	ID        string
	SessionID string
	ClientID  string
}
