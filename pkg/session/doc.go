/*
Package session serializes work on the same run.

A run is the unit of concurrency in the engine: two deliveries for the same run id
should not be handled at the same time. The Manager combines a local, reference-counted
mutex per run with an optional ports.DistributedLocker so that the guarantee extends
across worker replicas.
*/
package session
