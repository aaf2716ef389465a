// Package converter turns free-text Manual Operating Procedure documents into
// declarative Jenkins pipeline scripts.
//
// Conversion runs in three stages. Segment splits the text into named
// sections using a fixed cascade of heading patterns (numbered, markdown,
// all-caps, then a single default section). Classify reduces each section
// body to shell steps made of command lines and echoed comment lines. Emit
// renders the stages into the pipeline template.
//
// Convert wraps the stages with the override rule: a script already stored
// under the generated_script key of the pipeline configuration is returned
// as-is. Convert never fails; unexpected errors yield FallbackTemplate.
//
// Every function in this package is pure and safe for concurrent use.
package converter
