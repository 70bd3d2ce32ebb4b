// Package triage provides the business boundary for Docket's ticket triage.
// It defines the Pipeline (six sequential stages that enrich a Record, each
// falling back to local heuristics when inference is unavailable), the
// Service (ticket lifecycle and the triage trigger), the Store interfaces
// (persistence collaborators), and domain models.
package triage
