/*
Package runner implements the worker loop that drives the journey engine from a queue.

It acts as the bridge between the queue substrate and the engine: each consumer claims
one delivery, hands it to a Handler and acknowledges it on success or negatively
acknowledges it on failure, leaving retries and dead-lettering to the queue.

# Key Components

  - Pool: Runs a fixed number of consumers under an errgroup until its context ends.
  - Handler: The step executor (typically *runtime.Engine).
  - Middleware: Wraps a Handler, e.g. with the per-run lock from package session.

# Usage

	pool := runner.NewPool(queue, engine,
		runner.WithConcurrency(8),
		runner.WithLogger(logger),
		runner.WithMiddleware(runner.RunLock(session.NewManager())),
	)

	if err := pool.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package runner
