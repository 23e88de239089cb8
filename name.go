package kernelz

// Name identifies a component instance (an Effect, a Process, a Fiber) in
// logs, traces, and Fault paths. It is a plain string alias, matching the
// teacher's `type Name = string` — names are labels, not a closed enum.
type Name = string
