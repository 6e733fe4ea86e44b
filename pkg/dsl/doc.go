/*
Package dsl provides a Go DSL for constructing journey definitions in code.

It is an alternative to JSON or YAML files when journeys are generated, tested
or shipped inside a binary. The result is an ordinary *domain.Journey, validated
with the same rules the engine applies on create.

Example usage:

	b := dsl.New("post-op", "Post-op follow up")
	b.Message("welcome", "Welcome back home").Then("wait")
	b.Delay("wait", 24*time.Hour).Then("check")
	b.If("check", "patient.age", ">", 65).Then("senior").Else("standard")
	b.Message("senior", "A nurse will call you today")
	b.Message("standard", "Remember your exercises")

	journey, err := b.Build()
	// ... pass journey to engine.CreateJourney
*/
package dsl
