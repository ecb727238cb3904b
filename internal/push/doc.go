// Package push implements the WebSocket delivery channel.
//
// Each authenticated GET /ws request becomes a Conn with its own read loop,
// write loop and bounded send queue. Frames are JSON objects (see api.ClientFrame
// and api.ServerFrame):
//
//	-> {"type":"subscribe","ref":"1","topic":"<conversation id>"}
//	<- {"type":"subscribed","ref":"1","topic":"<conversation id>"}
//	-> {"type":"send","ref":"2","conversation_id":"<id>","body":"hi","client_msg_id":"c-1"}
//	<- {"type":"ack","ref":"2","topic":"<id>","message":{...}}
//	<- {"type":"message","topic":"<id>","message":{...}}
//
// Only participants may subscribe to a conversation. A message that does not
// fit in the send queue is dropped and counted; clients catch up through
// history. Closing a connection removes all of its subscriptions, while a send
// already in progress still completes.
package push
