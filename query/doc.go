/*
Package query answers structural questions about recorded traces.

# Overview

The engine runs read-only SQL against the trace store and reassembles
rows into view records: newest-first trace listings with filters, full
trace trees built from a single ordered span scan, name search, session
summaries with duration statistics, and an activity feed for live
viewers.

# Fragments

A dropped batch can leave children whose parent record never landed.
Tree assembly does not fail on them: subtrees with a missing parent are
returned as fragments and the tree is marked incomplete, so one damaged
trace never takes down a listing or a view.

# Usage

	eng, err := query.Open(dbPath)
	if err != nil { ... }
	defer eng.Close()

	traces, err := eng.ListTraces(ctx, query.Filter{Status: "failed"})
	tree, err := eng.TraceTree(ctx, traces[0].ID)
*/
package query
