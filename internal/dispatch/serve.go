package dispatch

import (
	"context"
	"encoding/json"
	"log"

	"github.com/cortex-mind/cortex/internal/transport"
)

// Serve subscribes client to every tool subject under the shared dispatch
// queue group, so running several Serve calls against the same bus load-
// balances tool calls across dispatch workers without double-handling.
func (r *Router) Serve(ctx context.Context, client *transport.Client) error {
	for _, tool := range Tools {
		tool := tool
		subject := transport.ToolSubject(tool)
		_, err := client.QueueSubscribe(subject, transport.DispatchQueueGroup, func(msg transport.Message) {
			raw, err := r.Dispatch(ctx, tool, msg.Data)
			if err != nil {
				log.Printf("[DISPATCH] %s: %v", tool, err)
				return
			}
			if msg.Reply == "" {
				return
			}
			if err := client.Respond(msg.Reply, json.RawMessage(raw)); err != nil {
				log.Printf("[DISPATCH] %s: failed to respond: %v", tool, err)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
