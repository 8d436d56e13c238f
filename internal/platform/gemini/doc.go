// Package gemini adapts Google's Gemini API to the task engine's handler
// interface for AI generation tasks.
package gemini
