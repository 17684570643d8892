// Package claude runs Claude Code CLI processes and turns their stream-json
// output into structured messages.
//
// # Overview
//
// A Manager owns every session. Each turn of a session is one CLI process:
//
//	m := claude.NewManager(claude.Options{})
//	turn, err := m.Start(ctx, handle, "Fix the failing test", spec, claude.Callbacks{
//	    OnMessage:  func(msg claude.Message) { ... },
//	    OnError:    func(err error) { ... },
//	    OnComplete: func(c claude.Completion) { ... },
//	})
//
// Follow-up prompts resume the same conversation:
//
//	turn, err = m.SendFollowUp(ctx, handle, "Now add a regression test")
//
// # Pipeline
//
// For each process, stdout flows through:
//
//  1. LineReassembler: bytes to trimmed, non-blank lines, independent of how
//     the pipe chunked them
//  2. Decoder: line to Message, falling back to KindRaw for anything it
//     cannot classify
//  3. ResolveSessionID: picks up the external conversation id used for
//     --resume
//
// Tool results are named through a ToolNameChain: the session's ToolStore
// (filled from tool_use blocks) is consulted first and the heuristic
// classifier second.
//
// # Process lifecycle
//
// The Registry maps handles to processes. It owns the stdout/stderr pipes so
// Kill can close them and unblock readers. Cleanup is exactly-once per
// process no matter how many of natural exit, Kill and timeouts race.
//
// # Thread Safety
//
// Manager, Registry, Decoder and ToolStores are safe for concurrent use.
// LineReassembler is owned by a single read loop.
package claude
