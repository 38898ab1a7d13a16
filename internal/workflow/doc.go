// Package workflow runs durable, linear step pipelines.
//
// Each named step of an instance runs through an Executor, which consults a
// repository.StepLedger first and only invokes the step function when no
// result has been recorded. A successful result is written once; a failure
// records nothing, so a resumed instance re-attempts only the failed step.
//
// A Runner drives one instance from running to terminated or errored, the
// Registry creates instances and runs them in the background, and a Poller
// waits on any StatusSource until an instance finishes or the poll budget
// runs out.
package workflow
