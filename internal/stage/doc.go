// Package stage describes the containerized pipeline stages and runs them on
// a worker.
//
// A Spec is the immutable description of one stage for a run: image, argument
// template, declared inputs and outputs, and the intermediates to prune. Plan
// turns the enabled flags into the ordered list of stages a job executes,
// pulling in stages whose trigger ran. BuildInvocation is the single place a
// docker command line is produced, so command construction is testable
// without a worker. Runner executes an invocation under the stage timeout and
// prunes intermediates on success.
package stage
