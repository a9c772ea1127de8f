// Package engine runs execute and prove jobs asynchronously. It resolves the
// gateway serving a job's backend, records the job lifecycle in the store,
// and classifies failures so clients can tell domain errors from
// infrastructure ones.
package engine
