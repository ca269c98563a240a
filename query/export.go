package query

import "context"

// ExportRecord is one line of a session export. Exactly one of the
// record fields is set, matching Kind.
type ExportRecord struct {
	Kind    string   `json:"kind"` // session, trace, span, event
	Session *Session `json:"session,omitempty"`
	Trace   *Trace   `json:"trace,omitempty"`
	Span    *Span    `json:"span,omitempty"`
	Event   *Event   `json:"event,omitempty"`
}

// ExportSession streams every record of a session through emit: the
// session first, then each trace followed by its spans and events.
// An emit error aborts the walk.
func (e *Engine) ExportSession(ctx context.Context, sessionID string, emit func(ExportRecord) error) error {
	sess, err := e.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := emit(ExportRecord{Kind: "session", Session: sess}); err != nil {
		return err
	}

	for offset := 0; ; offset += maxLimit {
		page, err := e.ListTraces(ctx, Filter{SessionID: sessionID, Limit: maxLimit, Offset: offset})
		if err != nil {
			return err
		}
		for _, tr := range page {
			if err := emit(ExportRecord{Kind: "trace", Trace: tr}); err != nil {
				return err
			}
			spans, err := e.spansForTrace(ctx, tr.ID)
			if err != nil {
				return err
			}
			for _, s := range spans {
				if err := emit(ExportRecord{Kind: "span", Span: s}); err != nil {
					return err
				}
			}
			events, err := e.eventsForTrace(ctx, tr.ID)
			if err != nil {
				return err
			}
			for _, ev := range events {
				if err := emit(ExportRecord{Kind: "event", Event: ev}); err != nil {
					return err
				}
			}
		}
		if len(page) < maxLimit {
			return nil
		}
	}
}
