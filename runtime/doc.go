// Package runtime drives the per-frame execution of script instances and
// the application of their queued mutation requests.
//
// Control flow per frame: for each phase in fixed order (pre-update,
// update, post-update), the scheduler invokes every runnable instance's
// update entry point in (priority, attach order), then drains that phase's
// event queue and applies it to the host world before the next phase
// begins. A post-update script therefore observes the fully applied
// effects of pre-update and update scripts from the same frame, while
// update-phase scripts never observe each other's same-frame writes except
// through the deterministic last-writer-wins rule.
//
// All script entry points and all event application run on the single
// logical execution thread that calls Frame. Nothing here is safe for
// concurrent use; the hot-reload manager's build worker is the only
// sanctioned off-thread collaborator and it communicates through a
// single-slot mailbox.
package runtime
