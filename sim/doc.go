// Package sim provides the core planning and simulation engine for a
// single-track railway section.
//
// # Reading Guide
//
// Start with these files to understand the core:
//   - model.go: Block/Section/Train domain types and the shared
//     occupancy-window formula every component derives timing from
//   - scheduler.go: the priority-ordered greedy planner (Optimizer)
//   - safety.go: the schedule-independent validator and live clearance gate
//   - simulator.go: the tick loop, per-train state machine, disruption
//     handling and KPI accrual
//
// # Contracts
//
// Optimize and Validate are pure, deterministic functions of their
// inputs. The engine owns all run state in a per-run object; external
// observers (session.go) receive copied snapshots over the Observer
// interface and can only request a cooperative stop, honored at the next
// tick boundary.
package sim
