/*
Package domain contains the core domain models of the journey execution engine.

It defines journey definitions (a directed graph of typed nodes), the patient
context a run is applied to, the queue payload for one step of a run, and the
append-only execution trace. This package is kept pure and free of external
dependencies like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Journey: A named graph of Nodes with a designated start node.
  - Node: A closed union of MessageNode, DelayNode and ConditionalNode.
  - PatientContext: The immutable subject a run is executed for.
  - Run: The payload carried by the queue for one step of a run.
  - Trace: The durable record of a run (status, ordered Steps) and its state machine.
*/
package domain
