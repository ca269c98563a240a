// Package hooks adapts framework lifecycle callbacks onto a Lens.
//
// Agent frameworks surface execution as paired notifications: a model
// call starts and ends, a tool runs and returns, a task is assigned and
// completed. Hooks maps each pair onto a span without the adapter
// knowing anything about contexts, stacks, or persistence. A start call
// returns a Token; hand it to the matching end or error call:
//
//	h := hooks.Bind(lens)
//
//	tok := h.ModelStart(ctx, "gpt-4o", prompt)
//	resp, err := client.Complete(tok.Context(), prompt)
//	if err != nil {
//		h.ModelErr(tok, err)
//		return err
//	}
//	h.ModelEnd(tok, resp)
//
// Nested calls use tok.Context() so lineage follows the framework's own
// nesting. Unpaired notifications, such as an agent picking an action,
// go through Emit as point events on whatever span is current.
package hooks
