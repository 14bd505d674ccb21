// Package batch sequences the groups of an installation and records what
// each step produced.
//
// # Sequences and Steps
//
// A Manager is configured with an ordered sequence of groups. A group may
// appear more than once; each occurrence gets the next step index for that
// group, starting at 0. Given the sequence
//
//	Database, Files, Script, Script
//
// the steps are Database(0), Files(0), Script(0) and Script(1).
//
// # Passes
//
// Run performs one pass. Without force it does nothing once the Marker
// reports a completed pass. A Selector limits the steps that are
// dispatched; excluded steps still consume their index:
//
//	sel := batch.NewSelector().Add(batch.Script, 1)
//	err := m.Run(ctx, true, sel)
//
// # Out-of-Sequence Steps
//
// A handler may call Prerequisite to make sure another step has produced its
// result, even one that comes later in the sequence. The step is dispatched
// immediately and its result stored; when the sequence later reaches that
// step the pass fails with ErrExecutionOutOfOrder, because a step's result
// may be stored only once per pass.
//
// # Results
//
// Result, GroupResults and Results read the results table of the current or
// most recent pass. The boolean they return tells "nothing stored" apart from
// a stored empty list.
package batch
