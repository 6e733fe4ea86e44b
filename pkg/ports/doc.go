/*
Package ports defines the driven ports (interfaces) of the journey execution engine.

These interfaces decouple the core logic from external implementations, allowing
the engine to work with various storage backends, queue substrates and message
channels.

# Key Interfaces

  - JourneyStore: Persists journey definitions.
  - TraceStore: Persists the append-only execution trace of each run.
  - Queue: Delivers step work items, optionally after a delay, at least once.
  - Messenger: Delivers the content of MESSAGE nodes to a patient.
  - DistributedLocker: Provides distributed locking for handling concurrent run access.

The contract suites in this package (RunJourneyStoreContract, RunTraceStoreContract,
RunQueueContract) are shared by every adapter test.
*/
package ports
