// Package notify pushes "message created" events to websocket clients.
//
// Clients connect to the Hub's HTTP handler and subscribe to conversations,
// either with ?conversation=<id> query parameters or by sending
//
//	{"type": "subscribe", "conversation_id": "<id>"}
//
// frames. The scheduler calls Hub.MessageCreated after each successful
// delivery; events are JSON-encoded Event values. Delivery is best effort
// and slow clients drop events rather than stall the scheduler.
package notify
