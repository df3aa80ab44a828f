// Package domain models soil-composition telemetry and normalizes it into a
// chart-ready table.
//
// # Data Source
//
// Readings are written by field sensors into a Firebase Realtime Database
// under a single path (default "soil_data"). The database enforces no schema:
// each child is a record keyed by an arbitrary ID (usually a push ID, which
// sorts chronologically) holding a flat object of named fields.
//
// # Record Conventions
//
// Fields recognized on each record:
//
//	timestamp          epoch seconds (1700000000 or 1700000000.25) or a
//	                   free-form date string ("2023-11-14 22:13:20",
//	                   "Nov 14 2023 10:13pm", RFC3339, ...)
//	gravel_percentage  number or numeric string
//	sand_percentage    number or numeric string
//	silt_percentage    number or numeric string
//
// Any other field is ignored. Percentages carry no enforced bound and need not
// sum to 100; sensors report them independently.
//
// When every key under the path is a small sequential integer the database
// serializes the object as a JSON array, with null holes for missing indices.
// Normalize accepts both forms.
//
// # Normalization Rules
//
// A record becomes a Reading only when its timestamp resolves and all three
// percentages coerce to finite numbers. Anything else is a row-level drop:
// counted in the Report, never returned as an error. Only a payload that is
// not a collection of records fails the call, with a *ShapeError.
//
// Output is ordered by timestamp ascending. Records with equal timestamps
// keep the store's key order, so normalizing the same payload twice yields
// identical tables.
package domain
